package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventAppointmentExpired  EventType = "APPOINTMENT_EXPIRED"
	EventAppointmentExpiring EventType = "APPOINTMENT_EXPIRING"
)

// Event is pushed to a doctor's live streams. It is never stored.
type Event struct {
	Type            EventType `json:"type"`
	AppointmentID   uuid.UUID `json:"appointmentId"`
	PatientName     string    `json:"patientName"`
	AppointmentDate time.Time `json:"appointmentDate"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notifier delivers an event to whoever is listening for a doctor. Delivery is
// best-effort: an error means the event did not leave this process, and no
// subscriber is not an error. Implementations must give up once ctx is done.
type Notifier interface {
	Notify(ctx context.Context, doctorID uuid.UUID, ev Event) error
}
