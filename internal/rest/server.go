package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"apptdesk/pkg/importer"
	"apptdesk/pkg/models"
	"apptdesk/pkg/service"
)

// App is the application surface the HTTP layer talks to.
type App interface {
	CreateAppointment(ctx context.Context, req models.AppointmentRequest) (models.Appointment, []models.FieldError, error)
	GetAppointments(ctx context.Context) ([]models.Appointment, error)
	GetAppointment(ctx context.Context, id int) (models.Appointment, error)
	UpdateAppointment(ctx context.Context, id int, req models.AppointmentRequest) (models.Appointment, []models.FieldError, error)
	DeleteAppointment(ctx context.Context, id int) (models.Appointment, error)
	RescheduleAppointment(ctx context.Context, id int, req models.RescheduleRequest) (models.Appointment, error)
	CancelAppointment(ctx context.Context, id int, req models.CancelRequest) (models.Appointment, error)
	CompleteAppointment(ctx context.Context, id int, req models.CompleteRequest) (models.Appointment, error)
	GetProviders(ctx context.Context) ([]models.Provider, error)
	GetProvider(ctx context.Context, id int) (models.Provider, error)
	ImportProvidersCSV(ctx context.Context, text string) (int, []service.RowErrors, error)
	ExportProvidersCSV(ctx context.Context) (string, error)
	CalendarEvents(ctx context.Context, max int64) ([]models.Event, error)
	Session(ctx context.Context, id string) (models.Session, models.User, error)
}

type Importer interface {
	Run(ctx context.Context, data []byte) (importer.Report, error)
}

type Server struct {
	log       *logrus.Entry
	app       App
	importer  Importer
	address   string
	version   string
	jwtSecret []byte
}

func NewServer(log *logrus.Logger, app App, imp Importer, address, version string, jwtSecret []byte) *Server {
	return &Server{
		log:       log.WithField("component", "rest"),
		app:       app,
		importer:  imp,
		address:   address,
		version:   version,
		jwtSecret: jwtSecret,
	}
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("err during shutdown: %v", err)
		}
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID, s.httpMetrics)
	r.Get("/version", s.versionHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Use(s.sessionAuth)
			r.Route("/appointments", func(r chi.Router) {
				r.Get("/", s.getAppointmentsHandler)
				r.Post("/", s.createAppointmentHandler)
				r.Get("/{id}", s.getAppointmentHandler)
				r.Patch("/{id}", s.updateAppointmentHandler)
				r.Delete("/{id}", s.deleteAppointmentHandler)
				r.Post("/{id}/reschedule", s.rescheduleHandler)
				r.Post("/{id}/cancel", s.cancelHandler)
				r.Post("/{id}/complete", s.completeHandler)
			})
			r.Route("/providers", func(r chi.Router) {
				r.Get("/", s.getProvidersHandler)
				r.Get("/{id}", s.getProviderHandler)
				r.Post("/import", s.importProvidersHandler)
				r.Get("/export", s.exportProvidersHandler)
			})
			r.Get("/calendar/events", s.calendarEventsHandler)
			r.Post("/admin/import/appointments", s.importAppointmentsHandler)
		})
	})
	return r
}
