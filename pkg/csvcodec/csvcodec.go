// Package csvcodec converts between delimited text and row mappings keyed by
// the header line. Quoting follows RFC 4180: a quoted field may contain
// delimiters and line breaks, and a doubled quote is a literal quote.
package csvcodec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Row maps a header name to the field value in one data row.
type Row map[string]string

// RowLengthError reports a data row whose field count differs from the
// header's. Row is 1-based, counting data rows only.
type RowLengthError struct {
	Row  int
	Want int
	Got  int
}

func (e *RowLengthError) Error() string {
	return fmt.Sprintf("row %d: expected %d columns, got %d", e.Row, e.Want, e.Got)
}

// Parse reads header+data rows from text. Blank lines are skipped. An empty
// input produces zero rows.
func Parse(text string) ([]Row, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("err parsing header: %w", err)
	}

	var rows []Row
	for rowNum := 1; ; rowNum++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("err parsing row %d: %w", rowNum, err)
		}
		if len(record) != len(header) {
			return nil, &RowLengthError{Row: rowNum, Want: len(header), Got: len(record)}
		}
		row := make(Row, len(header))
		for i, name := range header {
			row[name] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Serialize emits columns as the header line followed by one line per row,
// taking the value at each column key (missing keys become empty strings).
// Values containing a comma, quote or line break are quoted.
func Serialize(rows []Row, columns []string) string {
	var b strings.Builder
	writeLine(&b, columns, func(c string) string { return c })
	for _, row := range rows {
		b.WriteByte('\n')
		writeLine(&b, columns, func(c string) string { return row[c] })
	}
	return b.String()
}

func writeLine(b *strings.Builder, columns []string, value func(string) string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escape(value(c)))
	}
}

func escape(v string) string {
	if !strings.ContainsAny(v, ",\"\n\r") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}
