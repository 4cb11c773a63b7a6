package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrLockNotAcquired is returned by a Locker when another process holds the
// job's lock.
var ErrLockNotAcquired = errors.New("job lock not acquired")

// Locker guards a job across processes so replicas do not run the same pass
// at the same time.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Runnable is anything the runner can tick.
type Runnable interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

type outcome int

const (
	outcomeRan outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Runner ticks each job on its own goroutine at a fixed interval. A failing or
// panicking pass is logged and the job keeps its schedule.
type Runner struct {
	jobs     []Runnable
	interval time.Duration
	timeout  time.Duration
	locker   Locker
	logger   *zap.Logger

	// running is keyed by job name. One loop never overlaps itself, since the
	// ticker drops ticks while a pass runs; the flag stops two jobs registered
	// under the same name, or a manual tick, from running side by side.
	running map[string]*atomic.Bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewRunner(interval, timeout time.Duration, logger *zap.Logger, jobs ...Runnable) *Runner {
	running := make(map[string]*atomic.Bool, len(jobs))
	for _, j := range jobs {
		running[j.Name()] = &atomic.Bool{}
	}
	return &Runner{
		jobs:     jobs,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Named("scheduler"),
		running:  running,
	}
}

// WithLocker makes every pass acquire a per-job lock first and skip the tick
// when someone else holds it.
func (r *Runner) WithLocker(l Locker) *Runner {
	r.locker = l
	return r
}

// Start launches the jobs. Each runs once immediately and then on every tick
// until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.logger.Info("starting background jobs",
		zap.Int("jobs", len(r.jobs)),
		zap.Duration("interval", r.interval),
	)

	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}
}

// Stop cancels the jobs and waits for in-flight passes to return.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("background jobs stopped")
}

func (r *Runner) loop(ctx context.Context, job Runnable) {
	defer r.wg.Done()

	r.tick(ctx, job)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("job stopped", zap.String("job", job.Name()))
			return
		case <-ticker.C:
			r.tick(ctx, job)
		}
	}
}

func (r *Runner) tick(ctx context.Context, job Runnable) (out outcome) {
	log := r.logger.With(zap.String("job", job.Name()))

	flag := r.running[job.Name()]
	if flag == nil {
		flag = &atomic.Bool{}
	}
	if !flag.CompareAndSwap(false, true) {
		log.Warn("previous pass still running, skipping tick")
		return outcomeSkipped
	}
	defer flag.Store(false)

	defer func() {
		if p := recover(); p != nil {
			log.Error("pass panicked", zap.Any("panic", p))
			out = outcomeFailed
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	run := func(ctx context.Context) error {
		_, err := job.Run(ctx)
		return err
	}

	var err error
	if r.locker != nil {
		err = r.locker.WithLock(runCtx, "job:"+job.Name(), run)
	} else {
		err = run(runCtx)
	}

	switch {
	case errors.Is(err, ErrLockNotAcquired):
		log.Debug("lock held by another worker, skipping tick")
		return outcomeSkipped
	case err != nil:
		log.Error("pass failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return outcomeFailed
	}

	log.Debug("pass finished", zap.Duration("elapsed", time.Since(start)))
	return outcomeRan
}
