package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/dental-appointment-scheduling/internal/appointment"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, req appointment.CreateRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, patch appointment.Patch) (*appointment.Appointment, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to appointment.AppointmentStatus) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	TodaysAppointments(ctx context.Context, clinic string) ([]appointment.Appointment, error)
	TodaysStatusSummary(ctx context.Context, clinic string) (appointment.StatusSummary, error)
	UpcomingScheduled(ctx context.Context, clinic string) ([]appointment.Appointment, error)
}

func createAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), req)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toResponse(appt))
	}
}

func getAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func updateAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var patch appointment.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateAppointment(r.Context(), id, patch)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func transitionStatusHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req StatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Status == "" {
			writeError(w, http.StatusBadRequest, "validation_error", "status: is required")
			return
		}

		appt, err := svc.TransitionStatus(r.Context(), id, req.Status)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func cancelAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(appt))
	}
}

func todaysAppointmentsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.TodaysAppointments(r.Context(), r.URL.Query().Get("clinic"))
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponseList(appts))
	}
}

// todaysSummaryHandler answers with a plain "completed/total" string.
func todaysSummaryHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := svc.TodaysStatusSummary(r.Context(), r.URL.Query().Get("clinic"))
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeText(w, http.StatusOK, sum.String())
	}
}

func upcomingAppointmentsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.UpcomingScheduled(r.Context(), r.URL.Query().Get("clinic"))
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponseList(appts))
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		vErr     *appointment.ValidationError
		conflict *appointment.ConflictError
	)
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, "validation_error", vErr.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflictCode(conflict), conflict.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrDayBeingBooked):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "day_being_booked", appointment.ErrDayBeingBooked.Error())
	default:
		log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func conflictCode(err *appointment.ConflictError) string {
	switch {
	case errors.Is(err, appointment.ErrOverlap):
		return "appointment_overlap"
	case errors.Is(err, appointment.ErrDuplicateSameDay):
		return "duplicate_same_day"
	}
	return "conflict"
}
