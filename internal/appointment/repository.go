package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidReminderFlag = errors.New("invalid reminder flag")
)

// Repository contains all DB interactions needed by the service and the
// scheduler jobs.
type Repository interface {
	// Expiry job
	FindExpirable(ctx context.Context, cutoff time.Time) ([]Summary, error)
	// BulkSetExpired returns the ids that were still expirable when the update ran.
	BulkSetExpired(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)

	// Reminder jobs
	FindInWindow(ctx context.Context, start, end time.Time, flag ReminderFlag) ([]Summary, error)
	// BulkSetFlag returns the ids whose flag flipped from false to true.
	BulkSetFlag(ctx context.Context, ids []uuid.UUID, flag ReminderFlag) ([]uuid.UUID, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointment writes a only if its stored status is still from.
	UpdateAppointment(ctx context.Context, a *Appointment, from Status) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID, from Status) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
