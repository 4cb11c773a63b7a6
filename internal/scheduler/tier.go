package scheduler

import (
	"time"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
)

// Tier is one pre-start reminder: how far ahead it fires, which flag records
// that it fired, and what the doctor is told.
type Tier struct {
	Name    string
	Lead    time.Duration
	Flag    appointment.ReminderFlag
	Message string
}

var (
	ThirtyMinuteTier = Tier{
		Name:    "reminder-30m",
		Lead:    30 * time.Minute,
		Flag:    appointment.FlagNotifiedThirtyMin,
		Message: "Appointment starts in 30 minutes",
	}
	TenMinuteTier = Tier{
		Name:    "reminder-10m",
		Lead:    10 * time.Minute,
		Flag:    appointment.FlagNotifiedTenMin,
		Message: "Appointment starts in 10 minutes",
	}
)

// Window returns the appointment-date range a tick at now should pick up.
// The width always equals the poll interval, so consecutive ticks tile the
// timeline without gaps; for a 5 minute interval the window is
// [lead-2m, lead+3m].
func (t Tier) Window(now time.Time, interval time.Duration) (start, end time.Time) {
	after := interval/2 + interval/10
	before := interval - after
	mark := now.Add(t.Lead)
	return mark.Add(-before), mark.Add(after)
}
