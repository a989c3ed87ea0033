package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"apptdesk/pkg/logger"
	"apptdesk/pkg/metrics"
	"apptdesk/pkg/models"
)

type fakeStore struct {
	appts         []models.Appointment
	backupCalls   int
	backupErr     error
	replaceCalls  int
	failPositions map[int]bool
}

func (f *fakeStore) BackupAppointments(context.Context) (string, error) {
	f.backupCalls++
	if f.backupErr != nil {
		return "", f.backupErr
	}
	return "appointments_backup_2024-01-02T03-04-05Z", nil
}

func (f *fakeStore) ReplaceAppointments(_ context.Context, appts []models.Appointment) (int, []models.RecordError, error) {
	f.replaceCalls++
	f.appts = nil
	imported := 0
	var recordErrs []models.RecordError
	for i, a := range appts {
		if f.failPositions[i+1] {
			recordErrs = append(recordErrs, models.RecordError{Index: i + 1, Message: "insert failed"})
			continue
		}
		f.appts = append(f.appts, a)
		imported++
	}
	return imported, recordErrs, nil
}

type ImporterSuite struct {
	suite.Suite
	store    *fakeStore
	importer *Importer
}

func (s *ImporterSuite) SetupTest() {
	s.store = &fakeStore{failPositions: map[int]bool{}}
	s.importer = New(logger.NewLogger(), s.store, nil)
}

func record(overrides string) string {
	base := `"set_by": "web", "provider": "Ann", "marketing_channel": "ads", "call_type": "in-call", "start_date": "2024-03-01", "start_time": "10:00"`
	if overrides != "" {
		base += ", " + overrides
	}
	return "{" + base + "}"
}

func (s *ImporterSuite) TestAllValid() {
	data := fmt.Sprintf("[%s, %s, %s]",
		record(`"travel_expense": 50, "hosting_expense": 25`),
		record(`"gross_revenue": 200`),
		record(""))
	report, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().NoError(err)
	s.Require().Equal(3, report.Total)
	s.Require().Equal(3, report.Imported)
	s.Require().Empty(report.Errors)
	s.Require().NotEmpty(report.BackupTable)
	s.Require().Len(s.store.appts, 3)
	s.Require().Equal(75.0, s.store.appts[0].TotalExpenses)
}

func (s *ImporterSuite) TestNaNTokensSanitized() {
	data := fmt.Sprintf("[%s]", record(`"gross_revenue": NaN, "duration": NaN`))
	report, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().NoError(err)
	s.Require().Equal(1, report.Imported)
	s.Require().Equal(0.0, s.store.appts[0].GrossRevenue)
	s.Require().Nil(s.store.appts[0].Duration)
}

func (s *ImporterSuite) TestNaNInsideStringsPreserved() {
	data := fmt.Sprintf("[%s]", record(`"notes": "budget: NaN, revisit later", "client_name": "goes by \"NaN\"", "duration": NaN`))
	report, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().NoError(err)
	s.Require().Equal(1, report.Imported)
	appt := s.store.appts[0]
	s.Require().NotNil(appt.Notes)
	s.Require().Equal("budget: NaN, revisit later", *appt.Notes)
	s.Require().NotNil(appt.ClientName)
	s.Require().Equal(`goes by "NaN"`, *appt.ClientName)
	s.Require().Nil(appt.Duration)
}

func (s *ImporterSuite) TestRecordOutcomeMetrics() {
	imported := testutil.ToFloat64(metrics.ImportRecords.WithLabelValues("imported"))
	rejected := testutil.ToFloat64(metrics.ImportRecords.WithLabelValues("rejected"))
	failed := testutil.ToFloat64(metrics.ImportRecords.WithLabelValues("failed"))

	// One structural reject, one insert failure, one import.
	s.store.failPositions[1] = true
	data := fmt.Sprintf("[%s, %s, %s]", `{"provider": "Ann"}`, record(""), record(""))
	_, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().NoError(err)

	s.Require().Equal(1.0, testutil.ToFloat64(metrics.ImportRecords.WithLabelValues("imported"))-imported)
	s.Require().Equal(1.0, testutil.ToFloat64(metrics.ImportRecords.WithLabelValues("rejected"))-rejected)
	s.Require().Equal(1.0, testutil.ToFloat64(metrics.ImportRecords.WithLabelValues("failed"))-failed)
}

func (s *ImporterSuite) TestThresholdAbortsBeforeStorage() {
	records := make([]string, 0, 10)
	for i := 0; i < 8; i++ {
		records = append(records, record(""))
	}
	// Two of ten records missing start_time: 20% invalid.
	records = append(records,
		`{"set_by": "web", "provider": "Ann", "marketing_channel": "ads", "call_type": "in-call", "start_date": "2024-03-01"}`,
		`{"set_by": "web", "provider": "Ann", "marketing_channel": "ads", "call_type": "in-call", "start_date": "2024-03-01"}`)
	data := "[" + records[0]
	for _, r := range records[1:] {
		data += ", " + r
	}
	data += "]"

	report, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().ErrorIs(err, ErrTooManyInvalid)
	s.Require().Equal(2, report.Invalid)
	s.Require().Zero(s.store.backupCalls)
	s.Require().Zero(s.store.replaceCalls)
}

func (s *ImporterSuite) TestSingleInvalidRecordProceeds() {
	data := `[{"set_by": "web", "provider": "Ann", "marketing_channel": "ads", "call_type": "in-call", "start_date": "2024-03-01"}]`
	report, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().NoError(err)
	s.Require().Equal(1, report.Total)
	s.Require().Equal(1, report.Invalid)
	s.Require().Zero(report.Imported)
	s.Require().Len(report.Errors, 1)
	s.Require().Contains(report.Errors[0].Message, "start_time")
	s.Require().Equal(1, s.store.backupCalls)
}

func (s *ImporterSuite) TestBackupFailureIsFatal() {
	s.store.backupErr = errors.New("disk full")
	data := fmt.Sprintf("[%s]", record(""))
	_, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().ErrorIs(err, ErrBackupFailed)
	s.Require().Zero(s.store.replaceCalls)
}

func (s *ImporterSuite) TestInsertFailureSkippedAndReported() {
	s.store.failPositions[2] = true
	data := fmt.Sprintf("[%s, %s, %s]", record(""), record(""), record(""))
	report, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().NoError(err)
	s.Require().Equal(2, report.Imported)
	s.Require().Len(report.Errors, 1)
	s.Require().Equal(2, report.Errors[0].Index)
}

func (s *ImporterSuite) TestInsertErrorIndexesMapToSourceFile() {
	// Record 1 is structurally invalid, so the failing insert at batch
	// position 1 must be reported as source record 2.
	s.store.failPositions[1] = true
	data := fmt.Sprintf("[%s, %s]",
		`{"provider": "Ann"}`,
		record(""))
	report, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().NoError(err)
	s.Require().Len(report.Errors, 2)
	s.Require().Equal(1, report.Errors[0].Index)
	s.Require().Equal(2, report.Errors[1].Index)
	s.Require().Equal("insert failed", report.Errors[1].Message)
}

func (s *ImporterSuite) TestTransform() {
	data := fmt.Sprintf("[%s]", record(`"zip": 94103, "client_phone": 5551234567, "city": "null", "uses_email": true, "disposition_status": "Cancel", "travel_expense": "12.5"`))
	_, err := s.importer.Run(context.Background(), []byte(data))
	s.Require().NoError(err)
	appt := s.store.appts[0]
	s.Require().NotNil(appt.Zip)
	s.Require().Equal("94103", *appt.Zip)
	s.Require().NotNil(appt.ClientPhone)
	s.Require().Equal("5551234567", *appt.ClientPhone)
	s.Require().Nil(appt.City)
	s.Require().True(appt.UsesEmail)
	s.Require().Equal(models.DispositionCancel, appt.Disposition)
	s.Require().Equal(12.5, appt.TravelExpense)
	s.Require().Equal(12.5, appt.TotalExpenses)
}

func (s *ImporterSuite) TestUnparsableSource() {
	_, err := s.importer.Run(context.Background(), []byte("not json at all"))
	s.Require().ErrorIs(err, ErrSourceUnreadable)
	s.Require().Zero(s.store.backupCalls)
}

func (s *ImporterSuite) TestMissingFile() {
	_, err := s.importer.RunFile(context.Background(), "/no/such/file.json")
	s.Require().ErrorIs(err, ErrSourceUnreadable)
}

func TestImporterSuite(t *testing.T) {
	suite.Run(t, new(ImporterSuite))
}
