package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeJob struct {
	name  string
	runs  atomic.Int32
	run   func(ctx context.Context) error
	block chan struct{}
}

func (f *fakeJob) Name() string { return f.name }

func (f *fakeJob) Run(ctx context.Context) (Result, error) {
	f.runs.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.run != nil {
		return Result{}, f.run(ctx)
	}
	return Result{}, nil
}

type fakeLocker struct {
	held  bool
	calls atomic.Int32
	keys  chan string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.calls.Add(1)
	if l.keys != nil {
		l.keys <- key
	}
	if l.held {
		return ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestRunner_FailingJobsDoNotStopOthers(t *testing.T) {
	panicking := &fakeJob{name: "panics", run: func(context.Context) error { panic("boom") }}
	failing := &fakeJob{name: "fails", run: func(context.Context) error { return errors.New("store down") }}
	healthy := &fakeJob{name: "healthy"}

	r := NewRunner(10*time.Millisecond, time.Second, zap.NewNop(), panicking, failing, healthy)
	r.Start(context.Background())

	assert.Eventually(t, func() bool {
		return panicking.runs.Load() >= 3 && failing.runs.Load() >= 3 && healthy.runs.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	r.Stop()
}

func TestRunner_RunsImmediatelyOnStart(t *testing.T) {
	job := &fakeJob{name: "expiration"}
	r := NewRunner(time.Hour, time.Second, zap.NewNop(), job)
	r.Start(context.Background())
	defer r.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunner_StopWaitsForLoops(t *testing.T) {
	job := &fakeJob{name: "expiration"}
	r := NewRunner(5*time.Millisecond, time.Second, zap.NewNop(), job)
	r.Start(context.Background())

	require.Eventually(t, func() bool { return job.runs.Load() > 0 }, time.Second, time.Millisecond)
	r.Stop()

	after := job.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, job.runs.Load())
}

func TestRunner_SkipsOverlappingPass(t *testing.T) {
	job := &fakeJob{name: "reminder-30m", block: make(chan struct{})}
	r := NewRunner(time.Hour, time.Second, zap.NewNop(), job)

	first := make(chan outcome, 1)
	go func() { first <- r.tick(context.Background(), job) }()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, outcomeSkipped, r.tick(context.Background(), job))

	close(job.block)
	assert.Equal(t, outcomeRan, <-first)
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestRunner_SameNameRegisteredTwiceNeverOverlaps(t *testing.T) {
	release := make(chan struct{})
	a := &fakeJob{name: "expiration", block: release}
	b := &fakeJob{name: "expiration", block: release}

	r := NewRunner(5*time.Millisecond, time.Second, zap.NewNop(), a, b)
	r.Start(context.Background())

	require.Eventually(t, func() bool { return a.runs.Load()+b.runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), a.runs.Load()+b.runs.Load(), "second registration must skip while the first runs")

	close(release)
	r.Stop()
}

func TestRunner_LockHeldElsewhereSkips(t *testing.T) {
	job := &fakeJob{name: "expiration"}
	locker := &fakeLocker{held: true, keys: make(chan string, 1)}
	r := NewRunner(time.Hour, time.Second, zap.NewNop(), job).WithLocker(locker)

	assert.Equal(t, outcomeSkipped, r.tick(context.Background(), job))
	assert.Equal(t, "job:expiration", <-locker.keys)
	assert.Equal(t, int32(0), job.runs.Load())
}

func TestRunner_LockAcquiredRuns(t *testing.T) {
	job := &fakeJob{name: "reminder-10m"}
	locker := &fakeLocker{}
	r := NewRunner(time.Hour, time.Second, zap.NewNop(), job).WithLocker(locker)

	assert.Equal(t, outcomeRan, r.tick(context.Background(), job))
	assert.Equal(t, int32(1), locker.calls.Load())
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestRunner_PassGetsTimeout(t *testing.T) {
	var deadline time.Time
	job := &fakeJob{name: "expiration", run: func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	}}
	r := NewRunner(time.Hour, 3*time.Second, zap.NewNop(), job)

	before := time.Now()
	require.Equal(t, outcomeRan, r.tick(context.Background(), job))
	assert.WithinDuration(t, before.Add(3*time.Second), deadline, time.Second)
}

func TestRunner_PanicOutcome(t *testing.T) {
	job := &fakeJob{name: "panics", run: func(context.Context) error { panic("boom") }}
	r := NewRunner(time.Hour, time.Second, zap.NewNop(), job)

	assert.Equal(t, outcomeFailed, r.tick(context.Background(), job))
	// The running flag is released after a panic.
	assert.Equal(t, outcomeFailed, r.tick(context.Background(), job))
}
