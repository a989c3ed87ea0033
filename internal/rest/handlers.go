package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"apptdesk/pkg/importer"
	"apptdesk/pkg/models"
	"apptdesk/pkg/pgstore"
	"apptdesk/pkg/service"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationResponse carries field-level errors suitable for direct display.
type ValidationResponse struct {
	Errors []models.FieldError `json:"errors"`
}

func (s *Server) versionHandler(w http.ResponseWriter, _ *http.Request) {
	_, err := fmt.Fprintf(w, "%s\n", s.version)
	if err != nil {
		s.log.Warnf("err during writing to connection: %v", err)
	}
}

func (s *Server) getAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appts, err := s.app.GetAppointments(ctx)
	if err != nil {
		s.log.Warnf("err during getting appointments: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.writeResponse(w, http.StatusOK, appts)
}

func (s *Server) createAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.SetBy == nil {
		if user := s.currentUser(ctx); user != nil {
			req.SetBy = &user.Name
		}
	}
	created, fieldErrs, err := s.app.CreateAppointment(ctx, req)
	if err != nil {
		s.log.Warnf("err during creating appointment: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	if len(fieldErrs) > 0 {
		s.writeResponse(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: fieldErrs})
		return
	}
	s.writeResponse(w, http.StatusCreated, created)
}

func (s *Server) getAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	appt, err := s.app.GetAppointment(ctx, id)
	switch {
	case errors.Is(err, pgstore.ErrAppointmentNotFound):
		s.writeResponse(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.log.Warnf("err during getting appointment: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.writeResponse(w, http.StatusOK, appt)
}

func (s *Server) updateAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	var req models.AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	updated, fieldErrs, err := s.app.UpdateAppointment(ctx, id, req)
	switch {
	case errors.Is(err, pgstore.ErrAppointmentNotFound):
		s.writeResponse(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.log.Warnf("err during updating appointment: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	if len(fieldErrs) > 0 {
		s.writeResponse(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: fieldErrs})
		return
	}
	s.writeResponse(w, http.StatusOK, updated)
}

func (s *Server) deleteAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	deleted, err := s.app.DeleteAppointment(ctx, id)
	switch {
	case errors.Is(err, pgstore.ErrAppointmentNotFound):
		s.writeResponse(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.log.Warnf("err during deleting appointment: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.writeResponse(w, http.StatusOK, deleted)
}

func (s *Server) rescheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, func(r *http.Request, id int) (models.Appointment, []models.FieldError, error) {
		var req models.RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return models.Appointment{}, nil, errBadRequest(err)
		}
		var fieldErrs []models.FieldError
		if req.UpdatedStartDate == "" {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "updatedStartDate", Message: "is required"})
		}
		if req.UpdatedStartTime == "" {
			fieldErrs = append(fieldErrs, models.FieldError{Field: "updatedStartTime", Message: "is required"})
		}
		if len(fieldErrs) > 0 {
			return models.Appointment{}, fieldErrs, nil
		}
		appt, err := s.app.RescheduleAppointment(r.Context(), id, req)
		return appt, nil, err
	})
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, func(r *http.Request, id int) (models.Appointment, []models.FieldError, error) {
		var req models.CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return models.Appointment{}, nil, errBadRequest(err)
		}
		if req.CanceledBy == "" {
			return models.Appointment{}, []models.FieldError{{Field: "canceledBy", Message: "is required"}}, nil
		}
		appt, err := s.app.CancelAppointment(r.Context(), id, req)
		return appt, nil, err
	})
}

func (s *Server) completeHandler(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, func(r *http.Request, id int) (models.Appointment, []models.FieldError, error) {
		var req models.CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return models.Appointment{}, nil, errBadRequest(err)
		}
		appt, err := s.app.CompleteAppointment(r.Context(), id, req)
		return appt, nil, err
	})
}

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }

func errBadRequest(err error) error { return badRequestError{err: err} }

func (s *Server) transitionHandler(w http.ResponseWriter, r *http.Request, apply func(r *http.Request, id int) (models.Appointment, []models.FieldError, error)) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	appt, fieldErrs, err := apply(r, id)
	var badReq badRequestError
	switch {
	case errors.As(err, &badReq):
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, pgstore.ErrAppointmentNotFound):
		s.writeResponse(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.log.Warnf("err during appointment transition: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	if len(fieldErrs) > 0 {
		s.writeResponse(w, http.StatusUnprocessableEntity, ValidationResponse{Errors: fieldErrs})
		return
	}
	s.writeResponse(w, http.StatusOK, appt)
}

func (s *Server) getProvidersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providers, err := s.app.GetProviders(ctx)
	if err != nil {
		s.log.Warnf("err during getting providers: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.writeResponse(w, http.StatusOK, providers)
}

func (s *Server) getProviderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	provider, err := s.app.GetProvider(ctx, id)
	switch {
	case errors.Is(err, pgstore.ErrProviderNotFound):
		s.writeResponse(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.log.Warnf("err during getting provider: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.writeResponse(w, http.StatusOK, provider)
}

const defaultEventsLimit = 10

func (s *Server) calendarEventsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	max := int64(defaultEventsLimit)
	if raw := r.URL.Query().Get("max"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			s.writeResponse(w, http.StatusBadRequest, fmt.Errorf("invalid max: %q", raw))
			return
		}
		max = parsed
	}
	events, err := s.app.CalendarEvents(ctx, max)
	if err != nil {
		s.log.Warnf("err during listing calendar events: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.writeResponse(w, http.StatusOK, events)
}

type importProvidersResponse struct {
	Imported int                 `json:"imported"`
	Rows     []service.RowErrors `json:"rows,omitempty"`
}

func (s *Server) importProvidersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	imported, rowErrs, err := s.app.ImportProvidersCSV(ctx, string(body))
	if err != nil {
		s.log.Warnf("err during importing providers: %v", err)
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	if len(rowErrs) > 0 {
		s.writeResponse(w, http.StatusUnprocessableEntity, importProvidersResponse{Rows: rowErrs})
		return
	}
	s.writeResponse(w, http.StatusOK, importProvidersResponse{Imported: imported})
}

func (s *Server) exportProvidersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	text, err := s.app.ExportProvidersCSV(ctx)
	if err != nil {
		s.log.Warnf("err during exporting providers: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="providers.csv"`)
	if _, err := w.Write([]byte(text)); err != nil {
		s.log.Warnf("err during writing csv: %v", err)
	}
}

func (s *Server) importAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.importer.Run(ctx, body)
	switch {
	case errors.Is(err, importer.ErrSourceUnreadable):
		s.writeResponse(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, importer.ErrTooManyInvalid):
		s.writeResponse(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		s.log.Warnf("err during bulk import: %v", err)
		s.writeResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.writeResponse(w, http.StatusOK, report)
}

func (s *Server) writeResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if x, ok := data.(error); ok {
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: x.Error()}); err != nil {
			s.log.Warnf("err during encoding error: %v", err)
		}
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warnf("err during encoding response: %v", err)
	}
}
