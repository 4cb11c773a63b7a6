package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventAppointmentReopened      = "APPOINTMENT_REOPENED"
)

// ErrConcurrentModification is returned when the stored status moved between
// the read and the guarded write.
var ErrConcurrentModification = fmt.Errorf("%w: appointment was modified concurrently", ErrStatusConflict)

type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.Named("appointment"),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ChangeStatus runs a CRUD-initiated transition through the state machine.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status, reason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	from := appt.Status
	if err := ApplyTransition(appt, to, reason, s.now()); err != nil {
		return nil, err
	}

	updated, err := s.guardedUpdate(ctx, appt, from)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from":   from,
		"to":     to,
		"reason": reason,
	})

	return updated, nil
}

// EditAppointment changes the editable fields of a live appointment. Reminder
// flags are left alone; only a reopen starts a new reminder cycle.
func (s *Service) EditAppointment(ctx context.Context, id uuid.UUID, edit Edit) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := EnsureModifiable(appt.Status); err != nil {
		return nil, err
	}

	if edit.AppointmentDate != nil {
		if edit.AppointmentDate.IsZero() {
			return nil, ErrInvalidAppointmentDate
		}
		appt.AppointmentDate = *edit.AppointmentDate
	}
	if edit.Notes != nil {
		appt.Notes = edit.Notes
	}

	updated, err := s.guardedUpdate(ctx, appt, appt.Status)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if edit.AppointmentDate != nil {
		payload["appointment_date"] = *edit.AppointmentDate
	}
	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, payload)

	return updated, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}

	if err := EnsureModifiable(appt.Status); err != nil {
		return err
	}

	if err := s.repo.DeleteAppointment(ctx, id, appt.Status); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return s.classifyMissedWrite(ctx, id)
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"status": appt.Status,
	})

	return nil
}

// Reopen moves an expired appointment back into rotation at newDate with both
// reminder flags cleared.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID, newDate time.Time) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := ApplyReopen(appt, newDate); err != nil {
		return nil, err
	}
	if !newDate.After(s.now()) {
		return nil, ErrInvalidAppointmentDate
	}

	updated, err := s.guardedUpdate(ctx, appt, StatusExpired)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentReopened, map[string]any{
		"appointment_date": newDate,
	})

	return updated, nil
}

func (s *Service) guardedUpdate(ctx context.Context, appt *Appointment, from Status) (*Appointment, error) {
	updated, err := s.repo.UpdateAppointment(ctx, appt, from)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, s.classifyMissedWrite(ctx, appt.ID)
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return updated, nil
}

// classifyMissedWrite tells a vanished row apart from one whose status moved.
func (s *Service) classifyMissedWrite(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetAppointmentByID(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("reload appointment: %w", err)
	}
	return ErrConcurrentModification
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.Stringer("appointment_id", appointmentID),
			zap.Error(err),
		)
	}
}
