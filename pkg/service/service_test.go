package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"apptdesk/pkg/logger"
	"apptdesk/pkg/models"
	"apptdesk/pkg/pgstore"
)

type memStore struct {
	appts     map[int]models.Appointment
	providers []models.Provider
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{appts: map[int]models.Appointment{}, nextID: 1}
}

func (m *memStore) CreateAppointment(_ context.Context, appt models.Appointment) (models.Appointment, error) {
	appt.ID = m.nextID
	m.nextID++
	m.appts[appt.ID] = appt
	return appt, nil
}

func (m *memStore) GetAppointments(context.Context) ([]models.Appointment, error) {
	out := make([]models.Appointment, 0, len(m.appts))
	for _, a := range m.appts {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) GetAppointment(_ context.Context, id int) (models.Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return models.Appointment{}, pgstore.ErrAppointmentNotFound
	}
	return a, nil
}

func (m *memStore) UpdateAppointment(_ context.Context, id int, appt models.Appointment) (models.Appointment, error) {
	if _, ok := m.appts[id]; !ok {
		return models.Appointment{}, pgstore.ErrAppointmentNotFound
	}
	appt.ID = id
	m.appts[id] = appt
	return appt, nil
}

func (m *memStore) DeleteAppointment(_ context.Context, id int) (models.Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return models.Appointment{}, pgstore.ErrAppointmentNotFound
	}
	delete(m.appts, id)
	return a, nil
}

func (m *memStore) GetProviders(context.Context) ([]models.Provider, error) {
	return m.providers, nil
}

func (m *memStore) GetProvider(_ context.Context, id int) (models.Provider, error) {
	for _, p := range m.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Provider{}, pgstore.ErrProviderNotFound
}

func (m *memStore) UpsertProviders(_ context.Context, providers []models.Provider) error {
	m.providers = append(m.providers, providers...)
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (models.Session, error) {
	return models.Session{}, pgstore.ErrSessionNotFound
}

func (m *memStore) GetUser(_ context.Context, id int) (models.User, error) {
	return models.User{}, pgstore.ErrUserNotFound
}

type nopCalendar struct {
	events []models.Event
}

func (nopCalendar) CreateEvent(context.Context, models.Appointment) (string, error) {
	return "", nil
}
func (nopCalendar) DeleteEvent(context.Context, string) error { return nil }
func (c nopCalendar) Events(context.Context, int64) ([]models.Event, error) {
	return c.events, nil
}

func newService(store Store, cfg Config) *ScheduleService {
	log := logger.NewLogger()
	return NewScheduleService(log, store, nopCalendar{}, noopNotifier{}, cfg)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string) error { return nil }

func validRequest() models.AppointmentRequest {
	setBy := "web"
	provider := "Ann"
	channel := "ads"
	callType := "out-call"
	startDate := "2024-03-01"
	startTime := "10:00"
	return models.AppointmentRequest{
		SetBy:            &setBy,
		Provider:         &provider,
		MarketingChannel: &channel,
		CallType:         &callType,
		StartDate:        &startDate,
		StartTime:        &startTime,
	}
}

func TestCreateComputesDerived(t *testing.T) {
	store := newMemStore()
	svc := newService(store, Config{})
	req := validRequest()
	travel := 50.0
	hosting := 25.0
	gross := 200.0
	req.TravelExpense = &travel
	req.HostingExpense = &hosting
	req.GrossRevenue = &gross

	created, fieldErrs, err := svc.CreateAppointment(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, fieldErrs)
	require.Equal(t, 75.0, created.TotalExpenses)
	require.Equal(t, models.DefaultSplitPolicy(200, 75, ""), created.DueToProvider)
}

func TestCreateRejectsBadCallType(t *testing.T) {
	svc := newService(newMemStore(), Config{})
	req := validRequest()
	bad := "walk-in"
	req.CallType = &bad
	_, fieldErrs, err := svc.CreateAppointment(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, fieldErrs, 1)
	require.Equal(t, "callType", fieldErrs[0].Field)
}

func TestCreateEndBeforeStart(t *testing.T) {
	svc := newService(newMemStore(), Config{})
	req := validRequest()
	endDate := "2024-02-29"
	endTime := "09:00"
	req.EndDate = &endDate
	req.EndTime = &endTime
	_, fieldErrs, err := svc.CreateAppointment(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, fieldErrs, 1)
	require.Equal(t, "endDate", fieldErrs[0].Field)
}

func TestOutCallLocationRuleConfigurable(t *testing.T) {
	req := validRequest()

	_, fieldErrs, err := newService(newMemStore(), Config{}).CreateAppointment(context.Background(), req)
	require.NoError(t, err)
	require.Empty(t, fieldErrs)

	_, fieldErrs, err = newService(newMemStore(), Config{RequireOutCallLocation: true}).CreateAppointment(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, fieldErrs, 2)
	fields := []string{fieldErrs[0].Field, fieldErrs[1].Field}
	require.Contains(t, fields, "city")
	require.Contains(t, fields, "state")
}

func TestRescheduleRewritesUpdatedFields(t *testing.T) {
	store := newMemStore()
	svc := newService(store, Config{})
	created, _, err := svc.CreateAppointment(context.Background(), validRequest())
	require.NoError(t, err)

	updated, err := svc.RescheduleAppointment(context.Background(), created.ID, models.RescheduleRequest{
		UpdatedStartDate: "2024-03-08",
		UpdatedStartTime: "14:00",
	})
	require.NoError(t, err)
	require.Equal(t, models.DispositionReschedule, updated.Disposition)
	require.Equal(t, "2024-03-08", *updated.UpdatedStartDate)
	// The original start fields stay untouched.
	require.Equal(t, "2024-03-01", updated.StartDate)
}

func TestCompleteRecomputesCollected(t *testing.T) {
	store := newMemStore()
	svc := newService(store, Config{})
	created, _, err := svc.CreateAppointment(context.Background(), validRequest())
	require.NoError(t, err)

	cash := 100.0
	digital := 40.0
	gross := 200.0
	completed, err := svc.CompleteAppointment(context.Background(), created.ID, models.CompleteRequest{
		TotalCollectedCash:    &cash,
		TotalCollectedDigital: &digital,
		GrossRevenue:          &gross,
	})
	require.NoError(t, err)
	require.Equal(t, models.DispositionComplete, completed.Disposition)
	require.Equal(t, 140.0, completed.TotalCollected)
	require.Equal(t, 200.0, completed.GrossRevenue)
}

func TestCompleteRecordsExplicitZeroRevenue(t *testing.T) {
	store := newMemStore()
	svc := newService(store, Config{})
	req := validRequest()
	gross := 200.0
	req.GrossRevenue = &gross
	created, _, err := svc.CreateAppointment(context.Background(), req)
	require.NoError(t, err)

	// A no-show settles at zero; the stored revenue must drop, not persist.
	zero := 0.0
	completed, err := svc.CompleteAppointment(context.Background(), created.ID, models.CompleteRequest{
		GrossRevenue: &zero,
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, completed.GrossRevenue)
	require.Equal(t, 0.0, completed.TotalCollected)

	// Omitted fields keep their stored values.
	cash := 50.0
	completed, err = svc.CompleteAppointment(context.Background(), created.ID, models.CompleteRequest{
		TotalCollectedCash: &cash,
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, completed.GrossRevenue)
	require.Equal(t, 50.0, completed.TotalCollected)
}

func TestCalendarEvents(t *testing.T) {
	log := logger.NewLogger()
	cal := nopCalendar{events: []models.Event{{ID: "ev1", Title: "in-call appointment: Ann"}}}
	svc := NewScheduleService(log, newMemStore(), cal, noopNotifier{}, Config{})
	events, err := svc.CalendarEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "ev1", events[0].ID)
}

func TestGetProviderNotFound(t *testing.T) {
	svc := newService(newMemStore(), Config{})
	_, err := svc.GetProvider(context.Background(), 42)
	require.ErrorIs(t, err, pgstore.ErrProviderNotFound)
}

func TestImportProvidersAllOrNothing(t *testing.T) {
	store := newMemStore()
	svc := newService(store, Config{})
	csv := "firstName,lastName\nJane,Doe\n,Smith"
	imported, rowErrs, err := svc.ImportProvidersCSV(context.Background(), csv)
	require.NoError(t, err)
	require.Zero(t, imported)
	require.Len(t, rowErrs, 1)
	require.Equal(t, 2, rowErrs[0].Row)
	require.Empty(t, store.providers)
}

func TestExportProvidersRoundTrip(t *testing.T) {
	store := newMemStore()
	svc := newService(store, Config{})
	csv := "firstName,lastName,email\nJane,Doe,jane@example.com"
	imported, rowErrs, err := svc.ImportProvidersCSV(context.Background(), csv)
	require.NoError(t, err)
	require.Empty(t, rowErrs)
	require.Equal(t, 1, imported)

	out, err := svc.ExportProvidersCSV(context.Background())
	require.NoError(t, err)
	require.Contains(t, out, "Jane,Doe,jane@example.com")
	require.Contains(t, out, "Full-time,Active")
}

func TestDeleteMissingAppointment(t *testing.T) {
	svc := newService(newMemStore(), Config{})
	_, err := svc.DeleteAppointment(context.Background(), 42)
	require.ErrorIs(t, err, pgstore.ErrAppointmentNotFound)
}
