package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/notification"
)

const ExpirationJobName = "expiration"

// Store is the part of the appointment repository the jobs use.
type Store interface {
	FindExpirable(ctx context.Context, cutoff time.Time) ([]appointment.Summary, error)
	BulkSetExpired(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	FindInWindow(ctx context.Context, start, end time.Time, flag appointment.ReminderFlag) ([]appointment.Summary, error)
	BulkSetFlag(ctx context.Context, ids []uuid.UUID, flag appointment.ReminderFlag) ([]uuid.UUID, error)
}

// Result describes one pass of a job. Undelivered counts marked rows whose
// notification failed or was never attempted because the pass ran out of time.
type Result struct {
	Found       int
	Updated     int
	Notified    int
	Undelivered int
}

// Job is the single shape every scheduled pass takes: select a batch, mark it
// with one bulk write, then notify each doctor. The expiry job and the
// reminder tiers differ only in the functions they are built with.
type Job struct {
	name     string
	find     func(ctx context.Context, now time.Time) ([]appointment.Summary, error)
	mark     func(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	event    func(s appointment.Summary, now time.Time) notification.Event
	notifier notification.Notifier
	now      func() time.Time
	logger   *zap.Logger
}

// NewExpirationJob expires scheduled and confirmed appointments whose start is
// more than grace in the past.
func NewExpirationJob(store Store, notifier notification.Notifier, grace time.Duration, logger *zap.Logger) *Job {
	return &Job{
		name: ExpirationJobName,
		find: func(ctx context.Context, now time.Time) ([]appointment.Summary, error) {
			return store.FindExpirable(ctx, now.Add(-grace))
		},
		mark: store.BulkSetExpired,
		event: func(s appointment.Summary, now time.Time) notification.Event {
			return notification.Event{
				Type:            notification.EventAppointmentExpired,
				AppointmentID:   s.ID,
				PatientName:     s.PatientName,
				AppointmentDate: s.AppointmentDate,
				Message:         fmt.Sprintf("Appointment with %s has expired", s.PatientName),
				Timestamp:       now,
			}
		},
		notifier: notifier,
		now:      time.Now,
		logger:   logger.Named(ExpirationJobName),
	}
}

// NewReminderJob flags and announces appointments entering the tier's window.
// interval must be the cadence the job runs at; the window is derived from it.
func NewReminderJob(store Store, notifier notification.Notifier, tier Tier, interval time.Duration, logger *zap.Logger) *Job {
	return &Job{
		name: tier.Name,
		find: func(ctx context.Context, now time.Time) ([]appointment.Summary, error) {
			start, end := tier.Window(now, interval)
			return store.FindInWindow(ctx, start, end, tier.Flag)
		},
		mark: func(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
			return store.BulkSetFlag(ctx, ids, tier.Flag)
		},
		event: func(s appointment.Summary, now time.Time) notification.Event {
			return notification.Event{
				Type:            notification.EventAppointmentExpiring,
				AppointmentID:   s.ID,
				PatientName:     s.PatientName,
				AppointmentDate: s.AppointmentDate,
				Message:         tier.Message,
				Timestamp:       now,
			}
		},
		notifier: notifier,
		now:      time.Now,
		logger:   logger.Named(tier.Name),
	}
}

// WithClock replaces the time source. Used by tests.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

func (j *Job) Name() string {
	return j.name
}

// Run performs one pass. An error means nothing was marked and nobody was
// notified; notification itself never fails the pass. Notifying stops as soon
// as ctx is done, so a slow notifier cannot stretch a pass past its timeout.
func (j *Job) Run(ctx context.Context) (Result, error) {
	now := j.now()

	batch, err := j.find(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("%s: select batch: %w", j.name, err)
	}
	if len(batch) == 0 {
		return Result{}, nil
	}

	ids := make([]uuid.UUID, len(batch))
	for i, s := range batch {
		ids[i] = s.ID
	}

	marked, err := j.mark(ctx, ids)
	if err != nil {
		return Result{Found: len(batch)}, fmt.Errorf("%s: bulk update: %w", j.name, err)
	}

	// Rows another pass already took are not announced twice.
	updated := make(map[uuid.UUID]struct{}, len(marked))
	for _, id := range marked {
		updated[id] = struct{}{}
	}

	res := Result{Found: len(batch), Updated: len(marked)}
	for _, s := range batch {
		if _, ok := updated[s.ID]; !ok {
			continue
		}
		if ctx.Err() != nil {
			res.Undelivered++
			continue
		}
		if j.notify(ctx, s.DoctorID, j.event(s, now)) {
			res.Notified++
		} else {
			res.Undelivered++
		}
	}

	if ctx.Err() != nil {
		j.logger.Warn("pass ran out of time while notifying",
			zap.Int("undelivered", res.Undelivered),
			zap.Error(ctx.Err()),
		)
	}

	j.logger.Info("pass complete",
		zap.Int("found", res.Found),
		zap.Int("updated", res.Updated),
		zap.Int("notified", res.Notified),
		zap.Int("undelivered", res.Undelivered),
	)

	return res, nil
}

// notify isolates one doctor's delivery from the rest of the batch.
func (j *Job) notify(ctx context.Context, doctorID uuid.UUID, ev notification.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("notify panicked",
				zap.Stringer("doctor_id", doctorID),
				zap.Stringer("appointment_id", ev.AppointmentID),
				zap.Any("panic", r),
			)
			ok = false
		}
	}()

	if err := j.notifier.Notify(ctx, doctorID, ev); err != nil {
		j.logger.Debug("notify failed",
			zap.Stringer("doctor_id", doctorID),
			zap.Stringer("appointment_id", ev.AppointmentID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// DefaultJobs builds the expiry job and both reminder tiers for one cadence.
func DefaultJobs(store Store, notifier notification.Notifier, interval, grace time.Duration, logger *zap.Logger) []Runnable {
	return []Runnable{
		NewExpirationJob(store, notifier, grace, logger),
		NewReminderJob(store, notifier, ThirtyMinuteTier, interval, logger),
		NewReminderJob(store, notifier, TenMinuteTier, interval, logger),
	}
}
