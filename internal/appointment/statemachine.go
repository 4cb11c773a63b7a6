package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStatusConflict is the class every state-machine rejection belongs to.
	ErrStatusConflict          = errors.New("appointment status conflict")
	ErrNotModifiable           = fmt.Errorf("%w: appointment can no longer be modified", ErrStatusConflict)
	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid status transition", ErrStatusConflict)
	ErrReopenNotExpired        = fmt.Errorf("%w: only expired appointments can be reopened", ErrStatusConflict)

	ErrReasonRequired         = errors.New("a reason is required for this status")
	ErrInvalidStatus          = errors.New("unknown appointment status")
	ErrInvalidAppointmentDate = errors.New("appointment date must be in the future")
)

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow, StatusExpired},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow, StatusExpired},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusReopened:   {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusExpired:    {StatusReopened},
}

// ModifiableStatuses may be edited or deleted by the CRUD layer.
var ModifiableStatuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress, StatusReopened}

// ExpirableStatuses may be moved to expired by the expiry job.
var ExpirableStatuses = []Status{StatusScheduled, StatusConfirmed}

// RemindableStatuses are picked up by the reminder tiers. Reopened is included so
// a reopened appointment gets a fresh reminder cycle against its new date.
var RemindableStatuses = []Status{StatusScheduled, StatusConfirmed, StatusReopened}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsModifiable(s Status) bool {
	return containsStatus(ModifiableStatuses, s)
}

// EnsureModifiable rejects edits and deletes on appointments outside the
// modifiable set.
func EnsureModifiable(s Status) error {
	if !IsModifiable(s) {
		return fmt.Errorf("%w (status %s)", ErrNotModifiable, s)
	}
	return nil
}

// ApplyTransition moves a to the requested status and records the side effect
// that goes with it. Expired and reopened are owned by the expiry job and the
// reopen flow and cannot be requested here.
func ApplyTransition(a *Appointment, to Status, reason string, now time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if err := EnsureModifiable(a.Status); err != nil {
		return err
	}
	if to == StatusExpired || to == StatusReopened || !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, a.Status, to)
	}

	reason = strings.TrimSpace(reason)

	switch to {
	case StatusConfirmed:
		a.CheckInTime = &now
	case StatusInProgress:
		a.StartTime = &now
	case StatusCompleted:
		a.EndTime = &now
	case StatusCancelled, StatusNoShow:
		if reason == "" {
			return fmt.Errorf("%w: %s", ErrReasonRequired, to)
		}
		a.CancellationReason = &reason
	}

	a.Status = to
	return nil
}

// ApplyReopen puts an expired appointment back into rotation at newDate and
// starts a new reminder cycle.
func ApplyReopen(a *Appointment, newDate time.Time) error {
	if a.Status != StatusExpired {
		return fmt.Errorf("%w (status %s)", ErrReopenNotExpired, a.Status)
	}

	a.Status = StatusReopened
	a.AppointmentDate = newDate
	a.NotifiedThirtyMin = false
	a.NotifiedTenMin = false
	return nil
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
