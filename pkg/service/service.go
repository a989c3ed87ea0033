package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"apptdesk/pkg/csvcodec"
	"apptdesk/pkg/models"
	"apptdesk/pkg/rowvalid"
)

type Store interface {
	CreateAppointment(ctx context.Context, appt models.Appointment) (models.Appointment, error)
	GetAppointments(ctx context.Context) ([]models.Appointment, error)
	GetAppointment(ctx context.Context, id int) (models.Appointment, error)
	UpdateAppointment(ctx context.Context, id int, appt models.Appointment) (models.Appointment, error)
	DeleteAppointment(ctx context.Context, id int) (models.Appointment, error)
	GetProviders(ctx context.Context) ([]models.Provider, error)
	GetProvider(ctx context.Context, id int) (models.Provider, error)
	UpsertProviders(ctx context.Context, providers []models.Provider) error
	GetSession(ctx context.Context, id string) (models.Session, error)
	GetUser(ctx context.Context, id int) (models.User, error)
}

type Calendar interface {
	CreateEvent(ctx context.Context, appt models.Appointment) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
	Events(ctx context.Context, max int64) ([]models.Event, error)
}

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Config carries the validation rules that are business-configurable rather
// than fixed by the schema.
type Config struct {
	// RequireOutCallLocation makes city/state mandatory for out-call
	// appointments. The schema allows null, so this is off by default.
	RequireOutCallLocation bool
}

type ScheduleService struct {
	log      *logrus.Entry
	store    Store
	calendar Calendar
	notifier Notifier
	rows     *rowvalid.Validator
	policy   models.SplitPolicy
	cfg      Config
}

func NewScheduleService(log *logrus.Logger, store Store, calendar Calendar, notifier Notifier, cfg Config) *ScheduleService {
	return &ScheduleService{
		log:      log.WithField("component", "service"),
		store:    store,
		calendar: calendar,
		notifier: notifier,
		rows:     rowvalid.New(),
		policy:   models.DefaultSplitPolicy,
		cfg:      cfg,
	}
}

// CreateAppointment validates the insertable shape, computes the derived
// financial fields server-side and persists the record. Calendar and
// notification failures are logged, never surfaced.
func (s *ScheduleService) CreateAppointment(ctx context.Context, req models.AppointmentRequest) (models.Appointment, []models.FieldError, error) {
	appt, fieldErrs := s.buildAppointment(req)
	if len(fieldErrs) > 0 {
		return models.Appointment{}, fieldErrs, nil
	}
	appt.ComputeDerived(s.policy)
	created, err := s.store.CreateAppointment(ctx, appt)
	if err != nil {
		return models.Appointment{}, nil, fmt.Errorf("err creating appointment: %w", err)
	}
	if eventID, err := s.calendar.CreateEvent(ctx, created); err != nil {
		s.log.Errorf("err creating calendar event for appointment %d: %v", created.ID, err)
	} else if eventID != "" {
		created.CalendarEventID = &eventID
		if created, err = s.store.UpdateAppointment(ctx, created.ID, created); err != nil {
			return models.Appointment{}, nil, fmt.Errorf("err saving calendar event id: %w", err)
		}
	}
	if err := s.notifier.Notify(ctx, fmt.Sprintf("new appointment #%d with %s on %s %s", created.ID, created.Provider, created.StartDate, created.StartTime)); err != nil {
		s.log.Errorf("err notifying: %v", err)
	}
	return created, nil, nil
}

func (s *ScheduleService) GetAppointments(ctx context.Context) ([]models.Appointment, error) {
	appts, err := s.store.GetAppointments(ctx)
	if err != nil {
		return nil, fmt.Errorf("err getting appointments from store: %w", err)
	}
	return appts, nil
}

func (s *ScheduleService) GetAppointment(ctx context.Context, id int) (models.Appointment, error) {
	return s.store.GetAppointment(ctx, id)
}

// UpdateAppointment applies the provided fields over the stored record and
// recomputes derived financials before saving.
func (s *ScheduleService) UpdateAppointment(ctx context.Context, id int, req models.AppointmentRequest) (models.Appointment, []models.FieldError, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, nil, err
	}
	merge(&appt, req)
	if fieldErrs := s.checkInvariants(appt); len(fieldErrs) > 0 {
		return models.Appointment{}, fieldErrs, nil
	}
	appt.ComputeDerived(s.policy)
	updated, err := s.store.UpdateAppointment(ctx, id, appt)
	if err != nil {
		return models.Appointment{}, nil, err
	}
	return updated, nil, nil
}

func (s *ScheduleService) DeleteAppointment(ctx context.Context, id int) (models.Appointment, error) {
	deleted, err := s.store.DeleteAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	if deleted.CalendarEventID != nil {
		if err := s.calendar.DeleteEvent(ctx, *deleted.CalendarEventID); err != nil {
			s.log.Errorf("err deleting calendar event %s: %v", *deleted.CalendarEventID, err)
		}
	}
	return deleted, nil
}

// RescheduleAppointment rewrites the updated* fields and marks the record.
func (s *ScheduleService) RescheduleAppointment(ctx context.Context, id int, req models.RescheduleRequest) (models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	appt.Disposition = models.DispositionReschedule
	appt.UpdatedStartDate = &req.UpdatedStartDate
	appt.UpdatedStartTime = &req.UpdatedStartTime
	appt.UpdatedEndDate = req.UpdatedEndDate
	appt.UpdatedEndTime = req.UpdatedEndTime
	return s.store.UpdateAppointment(ctx, id, appt)
}

// CancelAppointment records who canceled and why.
func (s *ScheduleService) CancelAppointment(ctx context.Context, id int, req models.CancelRequest) (models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	appt.Disposition = models.DispositionCancel
	appt.CanceledBy = &req.CanceledBy
	appt.CancelDetails = req.CancelDetails
	updated, err := s.store.UpdateAppointment(ctx, id, appt)
	if err != nil {
		return models.Appointment{}, err
	}
	if updated.CalendarEventID != nil {
		if err := s.calendar.DeleteEvent(ctx, *updated.CalendarEventID); err != nil {
			s.log.Errorf("err deleting calendar event %s: %v", *updated.CalendarEventID, err)
		}
	}
	return updated, nil
}

// CompleteAppointment records the collected payments and recomputes the
// derived financial fields.
func (s *ScheduleService) CompleteAppointment(ctx context.Context, id int, req models.CompleteRequest) (models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return models.Appointment{}, err
	}
	appt.Disposition = models.DispositionComplete
	if req.TotalCollectedCash != nil {
		appt.TotalCollectedCash = *req.TotalCollectedCash
	}
	if req.TotalCollectedDigital != nil {
		appt.TotalCollectedDigital = *req.TotalCollectedDigital
	}
	if req.GrossRevenue != nil {
		appt.GrossRevenue = *req.GrossRevenue
	}
	appt.ComputeDerived(s.policy)
	return s.store.UpdateAppointment(ctx, id, appt)
}

func (s *ScheduleService) GetProviders(ctx context.Context) ([]models.Provider, error) {
	return s.store.GetProviders(ctx)
}

func (s *ScheduleService) GetProvider(ctx context.Context, id int) (models.Provider, error) {
	return s.store.GetProvider(ctx, id)
}

// CalendarEvents lists upcoming external calendar events for the schedule
// view.
func (s *ScheduleService) CalendarEvents(ctx context.Context, max int64) ([]models.Event, error) {
	events, err := s.calendar.Events(ctx, max)
	if err != nil {
		return nil, fmt.Errorf("err listing calendar events: %w", err)
	}
	return events, nil
}

// RowErrors collects the field-level failures of one CSV data row.
type RowErrors struct {
	Row    int                 `json:"row"`
	Errors []models.FieldError `json:"errors"`
}

// ImportProvidersCSV parses and validates a staff CSV. When every row is
// valid the providers are upserted in one transaction; otherwise nothing is
// written and all row errors are returned.
func (s *ScheduleService) ImportProvidersCSV(ctx context.Context, text string) (int, []RowErrors, error) {
	rows, err := csvcodec.Parse(text)
	if err != nil {
		return 0, nil, fmt.Errorf("err parsing csv: %w", err)
	}
	providers := make([]models.Provider, 0, len(rows))
	var rowErrs []RowErrors
	for i, row := range rows {
		res := s.rows.Validate(row, i+1)
		if !res.Valid {
			rowErrs = append(rowErrs, RowErrors{Row: res.RowNum, Errors: res.Errors})
			continue
		}
		providers = append(providers, res.Data)
	}
	if len(rowErrs) > 0 {
		return 0, rowErrs, nil
	}
	if err := s.store.UpsertProviders(ctx, providers); err != nil {
		return 0, nil, fmt.Errorf("err upserting providers: %w", err)
	}
	return len(providers), nil, nil
}

// ExportProvidersCSV renders the provider table in the fixed column order.
func (s *ScheduleService) ExportProvidersCSV(ctx context.Context) (string, error) {
	providers, err := s.store.GetProviders(ctx)
	if err != nil {
		return "", fmt.Errorf("err getting providers: %w", err)
	}
	rows := make([]csvcodec.Row, 0, len(providers))
	for _, p := range providers {
		rows = append(rows, csvcodec.Row{
			"firstName":      p.FirstName,
			"lastName":       p.LastName,
			"email":          text(p.Email),
			"phone":          text(p.Phone),
			"jobTitle":       text(p.JobTitle),
			"department":     text(p.Department),
			"employmentType": string(p.EmploymentType),
			"status":         string(p.Status),
			"startDate":      text(p.StartDate),
			"endDate":        text(p.EndDate),
			"photoUrl":       text(p.PhotoURL),
		})
	}
	return csvcodec.Serialize(rows, rowvalid.Columns), nil
}

// Session resolves a session id to the session and its user. Expiry is the
// caller's concern; the session store is read-only from here.
func (s *ScheduleService) Session(ctx context.Context, id string) (models.Session, models.User, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return models.Session{}, models.User{}, err
	}
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return models.Session{}, models.User{}, err
	}
	return session, user, nil
}

func (s *ScheduleService) buildAppointment(req models.AppointmentRequest) (models.Appointment, []models.FieldError) {
	var fieldErrs []models.FieldError
	required := func(field string, v *string) string {
		if v == nil || strings.TrimSpace(*v) == "" {
			fieldErrs = append(fieldErrs, models.FieldError{Field: field, Message: "is required"})
			return ""
		}
		return strings.TrimSpace(*v)
	}

	appt := models.Appointment{
		SetBy:            required("setBy", req.SetBy),
		Provider:         required("provider", req.Provider),
		MarketingChannel: required("marketingChannel", req.MarketingChannel),
		StartDate:        required("startDate", req.StartDate),
		StartTime:        required("startTime", req.StartTime),

		ClientName:  req.ClientName,
		ClientPhone: req.ClientPhone,
		ClientEmail: req.ClientEmail,

		Street: req.Street,
		Line2:  req.Line2,
		City:   req.City,
		State:  req.State,
		Zip:    req.Zip,

		EndDate:  req.EndDate,
		EndTime:  req.EndTime,
		Duration: req.Duration,
		Notes:    req.Notes,
	}
	if req.UsesEmail != nil {
		appt.UsesEmail = *req.UsesEmail
	}
	if req.GrossRevenue != nil {
		appt.GrossRevenue = *req.GrossRevenue
	}
	if req.TravelExpense != nil {
		appt.TravelExpense = *req.TravelExpense
	}
	if req.HostingExpense != nil {
		appt.HostingExpense = *req.HostingExpense
	}
	if req.InOutGoesTo != nil {
		appt.InOutGoesTo = *req.InOutGoesTo
	}
	if raw := required("callType", req.CallType); raw != "" {
		ct, err := models.ParseCallType(raw)
		if err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "callType", Message: "must be in-call or out-call"})
		} else {
			appt.CallType = ct
		}
	}
	fieldErrs = append(fieldErrs, s.checkInvariants(appt)...)
	if len(fieldErrs) > 0 {
		return models.Appointment{}, fieldErrs
	}
	return appt, nil
}

func (s *ScheduleService) checkInvariants(appt models.Appointment) []models.FieldError {
	var fieldErrs []models.FieldError
	if appt.Duration != nil && !models.ValidDuration(*appt.Duration) {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "duration", Message: "must be a non-negative multiple of 0.5 hours"})
	}
	if appt.StartDate != "" && appt.StartTime != "" {
		start, err := appt.StartsAt()
		if err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "startDate", Message: "must be a valid date and time"})
		} else if end, ok, err := appt.EndsAt(); err != nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "endDate", Message: "must be a valid date and time"})
		} else if ok && end.Before(start) {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "endDate", Message: "must not precede start"})
		}
	}
	if s.cfg.RequireOutCallLocation && appt.CallType == models.CallTypeOut {
		if appt.City == nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "city", Message: "is required for out-call appointments"})
		}
		if appt.State == nil {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "state", Message: "is required for out-call appointments"})
		}
	}
	return fieldErrs
}

func merge(appt *models.Appointment, req models.AppointmentRequest) {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setOpt := func(dst **string, v *string) {
		if v != nil {
			*dst = v
		}
	}
	setString(&appt.SetBy, req.SetBy)
	setString(&appt.Provider, req.Provider)
	setString(&appt.MarketingChannel, req.MarketingChannel)
	setString(&appt.StartDate, req.StartDate)
	setString(&appt.StartTime, req.StartTime)
	if req.CallType != nil {
		if ct, err := models.ParseCallType(*req.CallType); err == nil {
			appt.CallType = ct
		}
	}
	setOpt(&appt.ClientName, req.ClientName)
	setOpt(&appt.ClientPhone, req.ClientPhone)
	setOpt(&appt.ClientEmail, req.ClientEmail)
	if req.UsesEmail != nil {
		appt.UsesEmail = *req.UsesEmail
	}
	setOpt(&appt.Street, req.Street)
	setOpt(&appt.Line2, req.Line2)
	setOpt(&appt.City, req.City)
	setOpt(&appt.State, req.State)
	setOpt(&appt.Zip, req.Zip)
	setOpt(&appt.EndDate, req.EndDate)
	setOpt(&appt.EndTime, req.EndTime)
	if req.Duration != nil {
		appt.Duration = req.Duration
	}
	setOpt(&appt.Notes, req.Notes)
	if req.GrossRevenue != nil {
		appt.GrossRevenue = *req.GrossRevenue
	}
	if req.TravelExpense != nil {
		appt.TravelExpense = *req.TravelExpense
	}
	if req.HostingExpense != nil {
		appt.HostingExpense = *req.HostingExpense
	}
	if req.InOutGoesTo != nil {
		appt.InOutGoesTo = *req.InOutGoesTo
	}
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
