package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
)

// AppointmentService is what the handlers need from appointment.Service.
type AppointmentService interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, to appointment.Status, reason string) (*appointment.Appointment, error)
	EditAppointment(ctx context.Context, id uuid.UUID, edit appointment.Edit) (*appointment.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	Reopen(ctx context.Context, id uuid.UUID, newDate time.Time) (*appointment.Appointment, error)
}

func parseAppointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func getAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func changeStatusHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		var req StatusChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.ChangeStatus(r.Context(), id, appointment.Status(req.Status), req.Reason)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func editAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		var req EditAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.EditAppointment(r.Context(), id, appointment.Edit{
			AppointmentDate: req.AppointmentDate,
			Notes:           req.Notes,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func reopenAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseAppointmentID(w, r)
		if !ok {
			return
		}

		var req ReopenAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.AppointmentDate.IsZero() {
			writeError(w, http.StatusBadRequest, "missing_appointment_date", "appointment_date is required")
			return
		}

		appt, err := svc.Reopen(r.Context(), id, req.AppointmentDate)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	case errors.Is(err, appointment.ErrReopenNotExpired):
		writeError(w, http.StatusConflict, "appointment_not_expired", err.Error())
	case errors.Is(err, appointment.ErrNotModifiable):
		writeError(w, http.StatusConflict, "appointment_not_modifiable", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, appointment.ErrReasonRequired):
		writeError(w, http.StatusUnprocessableEntity, "reason_required", err.Error())
	case errors.Is(err, appointment.ErrInvalidAppointmentDate):
		writeError(w, http.StatusUnprocessableEntity, "invalid_appointment_date", err.Error())
	default:
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
