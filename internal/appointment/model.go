package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
	StatusExpired    Status = "expired"
	StatusReopened   Status = "reopened"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
		StatusCancelled, StatusNoShow, StatusExpired, StatusReopened:
		return true
	}
	return false
}

// ReminderFlag names the boolean column a reminder tier owns.
type ReminderFlag string

const (
	FlagNotifiedThirtyMin ReminderFlag = "notified_thirty_min"
	FlagNotifiedTenMin    ReminderFlag = "notified_ten_min"
)

func (f ReminderFlag) Valid() bool {
	return f == FlagNotifiedThirtyMin || f == FlagNotifiedTenMin
}

type Appointment struct {
	ID                 uuid.UUID
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	ClinicID           uuid.UUID
	AppointmentDate    time.Time
	Status             Status
	NotifiedThirtyMin  bool
	NotifiedTenMin     bool
	CheckInTime        *time.Time
	StartTime          *time.Time
	EndTime            *time.Time
	CancellationReason *string
	Notes              *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Flag reports the current value of a reminder flag.
func (a *Appointment) Flag(f ReminderFlag) bool {
	switch f {
	case FlagNotifiedThirtyMin:
		return a.NotifiedThirtyMin
	case FlagNotifiedTenMin:
		return a.NotifiedTenMin
	}
	return false
}

// Summary is the slice of an appointment the scheduler jobs need to build a
// notification.
type Summary struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientName     string
	AppointmentDate time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Edit carries the fields the CRUD layer may change on a live appointment.
// Nil fields are left untouched.
type Edit struct {
	AppointmentDate *time.Time
	Notes           *string
}
