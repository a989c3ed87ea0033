// Package importer loads a legacy JSON export of appointments, validates it,
// snapshots the current table and replaces its contents with the transformed
// records.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"apptdesk/pkg/metrics"
	"apptdesk/pkg/models"
)

var (
	ErrSourceUnreadable = errors.New("import source unreadable")
	ErrTooManyInvalid   = errors.New("too many invalid records")
	ErrBackupFailed     = errors.New("backup failed")
)

// The legacy export writes bare NaN tokens where a number is missing, which
// is not valid JSON. sanitizeNaN rewrites them to null before decoding,
// tracking string boundaries so "NaN" inside quoted text stays untouched.
func sanitizeNaN(data []byte) []byte {
	out := make([]byte, 0, len(data))
	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			switch c {
			case '\\':
				if i+1 < len(data) {
					i++
					out = append(out, data[i])
				}
			case '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out = append(out, c)
		case c == 'N' && bytes.HasPrefix(data[i:], []byte("NaN")):
			out = append(out, "null"...)
			i += 2
		default:
			out = append(out, c)
		}
	}
	return out
}

var requiredKeys = []string{"set_by", "provider", "marketing_channel", "call_type", "start_date", "start_time"}

// invalidRatioLimit is the share of structurally invalid records beyond
// which the pipeline aborts before touching storage. A single invalid record
// never aborts on its own, so a one-record batch still proceeds.
const invalidRatioLimit = 0.10

type Store interface {
	BackupAppointments(ctx context.Context) (string, error)
	ReplaceAppointments(ctx context.Context, appts []models.Appointment) (int, []models.RecordError, error)
}

type Report struct {
	Total       int                  `json:"total"`
	Imported    int                  `json:"imported"`
	Invalid     int                  `json:"invalid"`
	BackupTable string               `json:"backupTable"`
	Errors      []models.RecordError `json:"errors"`
}

type Importer struct {
	log    *logrus.Entry
	store  Store
	policy models.SplitPolicy
}

func New(log *logrus.Logger, store Store, policy models.SplitPolicy) *Importer {
	return &Importer{
		log:    log.WithField("component", "importer"),
		store:  store,
		policy: policy,
	}
}

// RunFile runs the pipeline on a JSON file on disk.
func (im *Importer) RunFile(ctx context.Context, path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	return im.Run(ctx, data)
}

// Run executes the stages in order: read, structural validate, backup,
// transform, replace, report. Only an unreadable source, an over-threshold
// invalid ratio or a backup failure aborts the pipeline; per-record insert
// failures are accumulated into the report.
func (im *Importer) Run(ctx context.Context, data []byte) (Report, error) {
	records, err := decode(data)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	report := Report{Total: len(records)}

	valid := make([]indexedRecord, 0, len(records))
	for i, rec := range records {
		if missing := missingKeys(rec); len(missing) > 0 {
			report.Invalid++
			report.Errors = append(report.Errors, models.RecordError{
				Index:   i + 1,
				Message: "missing required fields: " + strings.Join(missing, ", "),
			})
			continue
		}
		valid = append(valid, indexedRecord{index: i + 1, fields: rec})
	}
	if report.Invalid > 1 && float64(report.Invalid)/float64(report.Total) > invalidRatioLimit {
		metrics.ImportRecords.WithLabelValues("aborted").Add(float64(report.Total))
		return report, fmt.Errorf("%w: %d of %d records invalid", ErrTooManyInvalid, report.Invalid, report.Total)
	}

	backup, err := im.store.BackupAppointments(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	report.BackupTable = backup
	im.log.Infof("backed up appointments to %s", backup)

	appts := make([]models.Appointment, 0, len(valid))
	for _, rec := range valid {
		appts = append(appts, im.transform(rec.fields))
	}

	imported, insertErrs, err := im.store.ReplaceAppointments(ctx, appts)
	if err != nil {
		return report, fmt.Errorf("err replacing appointments: %w", err)
	}
	report.Imported = imported
	for _, re := range insertErrs {
		// Map positions within the insert batch back to source file indexes.
		re.Index = valid[re.Index-1].index
		report.Errors = append(report.Errors, re)
	}
	sort.Slice(report.Errors, func(i, j int) bool { return report.Errors[i].Index < report.Errors[j].Index })

	metrics.ImportRecords.WithLabelValues("imported").Add(float64(report.Imported))
	metrics.ImportRecords.WithLabelValues("rejected").Add(float64(report.Invalid))
	metrics.ImportRecords.WithLabelValues("failed").Add(float64(len(insertErrs)))
	im.log.Infof("import finished: %d/%d imported, %d errors", report.Imported, report.Total, len(report.Errors))
	return report, nil
}

type indexedRecord struct {
	index  int
	fields map[string]interface{}
}

func decode(data []byte) ([]map[string]interface{}, error) {
	sanitized := sanitizeNaN(data)
	var records []map[string]interface{}
	if err := json.Unmarshal(sanitized, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func missingKeys(rec map[string]interface{}) []string {
	var missing []string
	for _, key := range requiredKeys {
		if text(rec[key]) == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// transform maps the legacy snake_case export shape onto the internal
// schema, field by field. Derived financials are recomputed, never copied.
func (im *Importer) transform(rec map[string]interface{}) models.Appointment {
	appt := models.Appointment{
		SetBy:            deref(text(rec["set_by"])),
		Provider:         deref(text(rec["provider"])),
		MarketingChannel: deref(text(rec["marketing_channel"])),
		CallType:         models.CallType(deref(text(rec["call_type"]))),
		StartDate:        deref(text(rec["start_date"])),
		StartTime:        deref(text(rec["start_time"])),

		ClientName:  text(rec["client_name"]),
		ClientPhone: text(rec["client_phone"]),
		ClientEmail: text(rec["client_email"]),
		UsesEmail:   boolean(rec["uses_email"]),

		Street: text(rec["street"]),
		Line2:  text(rec["line2"]),
		City:   text(rec["city"]),
		State:  text(rec["state"]),
		Zip:    text(rec["zip"]),

		EndDate:  text(rec["end_date"]),
		EndTime:  text(rec["end_time"]),
		Duration: number(rec["duration"]),
		Notes:    text(rec["notes"]),

		UpdatedStartDate: text(rec["updated_start_date"]),
		UpdatedStartTime: text(rec["updated_start_time"]),
		UpdatedEndDate:   text(rec["updated_end_date"]),
		UpdatedEndTime:   text(rec["updated_end_time"]),

		CanceledBy:    text(rec["canceled_by"]),
		CancelDetails: text(rec["cancel_details"]),

		GrossRevenue:          money(rec["gross_revenue"]),
		TravelExpense:         money(rec["travel_expense"]),
		HostingExpense:        money(rec["hosting_expense"]),
		TotalCollectedCash:    money(rec["total_collected_cash"]),
		TotalCollectedDigital: money(rec["total_collected_digital"]),
		InOutGoesTo:           deref(text(rec["in_out_goes_to"])),

		CalendarEventID: text(rec["calendar_event_id"]),
	}
	if d, err := models.ParseDisposition(deref(text(rec["disposition_status"]))); err == nil {
		appt.Disposition = d
	} else {
		im.log.Warnf("dropping unknown disposition %v", rec["disposition_status"])
	}
	appt.ComputeDerived(im.policy)
	return appt
}

// text coerces a decoded JSON value to optional text. Numbers lose no
// digits (zip codes and phones arrive as numerics in the legacy export) and
// null-like tokens collapse to absence.
func text(v interface{}) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = strings.TrimSpace(x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(x)
	default:
		s = fmt.Sprintf("%v", x)
	}
	switch s {
	case "", "null", "NULL", "NaN", "undefined":
		return nil
	}
	return &s
}

func money(v interface{}) float64 {
	return derefFloat(number(v))
}

func number(v interface{}) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return &f
		}
	}
	return nil
}

func boolean(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true" || x == "1"
	case float64:
		return x != 0
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
