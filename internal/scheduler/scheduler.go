// Package scheduler runs background jobs on a fixed interval or a cron
// expression. Runs never overlap: a trigger that fires while the previous
// run is still in progress is skipped and logged, not queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/slotwise/internal/config"
	"github.com/marcus/slotwise/internal/logging"
)

// Errors returned by the scheduler.
var (
	ErrNoSchedule     = errors.New("no schedule configured (need cron or interval)")
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
)

// State is the state of the run loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Job is one unit of work executed on every run.
type Job func(ctx context.Context) error

// Scheduler triggers jobs periodically.
type Scheduler struct {
	mu       sync.Mutex
	cronExpr string
	schedule cron.Schedule
	interval time.Duration
	jobs     []Job

	started bool
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	runWG   sync.WaitGroup
	trigger chan struct{}
	nextRun time.Time

	state   atomic.Int32
	runs    atomic.Int64
	skipped atomic.Int64
	lastRun atomic.Pointer[time.Time]

	log *logging.Logger
}

// New creates an unconfigured scheduler.
func New() *Scheduler {
	return &Scheduler{
		trigger: make(chan struct{}, 1),
		log:     logging.Component("scheduler"),
	}
}

// NewFromConfig creates a scheduler from the scheduler config section.
func NewFromConfig(cfg *config.Config) (*Scheduler, error) {
	s := New()
	switch {
	case cfg.Scheduler.Cron != "":
		if err := s.SetCron(cfg.Scheduler.Cron); err != nil {
			return nil, err
		}
	case cfg.Scheduler.Interval != "":
		d, err := time.ParseDuration(cfg.Scheduler.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", cfg.Scheduler.Interval, err)
		}
		if err := s.SetInterval(d); err != nil {
			return nil, err
		}
	default:
		d := cfg.SchedulerInterval()
		if d <= 0 {
			return nil, ErrNoSchedule
		}
		if err := s.SetInterval(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetCron switches to a standard five-field cron schedule.
func (s *Scheduler) SetCron(expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronExpr = expr
	s.schedule = sched
	s.interval = 0
	return nil
}

// SetInterval switches to a fixed interval.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive, got %v", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	s.cronExpr = ""
	s.schedule = nil
	return nil
}

// AddJob appends a job. Jobs run sequentially in the order added.
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// next returns the first trigger time after t. Caller holds mu.
func (s *Scheduler) next(t time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(t)
	}
	return t.Add(s.interval)
}

// Start begins triggering jobs until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyRunning
	}
	if s.schedule == nil && s.interval <= 0 {
		return ErrNoSchedule
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.nextRun = s.next(time.Now())

	s.loopWG.Add(1)
	go s.loop(loopCtx)

	mode := "interval " + s.interval.String()
	if s.cronExpr != "" {
		mode = "cron " + s.cronExpr
	}
	s.log.Infof("scheduler started (%s), next run %s", mode, s.nextRun.Format(time.RFC3339))
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.started = false
	cancel := s.cancel
	s.cancel = nil
	s.nextRun = time.Time{}
	s.mu.Unlock()

	cancel()
	s.loopWG.Wait()
	s.runWG.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

// Trigger requests an immediate run. It does not block; a pending trigger
// absorbs further ones.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWG.Done()

	for {
		s.mu.Lock()
		wait := time.Until(s.nextRun)
		s.mu.Unlock()

		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.trigger:
			timer.Stop()
			s.fire(ctx)
		case <-timer.C:
			s.mu.Lock()
			s.nextRun = s.next(time.Now())
			s.mu.Unlock()
			s.fire(ctx)
		}
	}
}

// fire starts a run unless one is in progress.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		n := s.skipped.Add(1)
		s.log.Zerolog().Warn().Int64("skipped_total", n).Msg("previous run still in progress, skipping")
		return
	}

	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer s.state.Store(int32(StateIdle))
		s.run(ctx, jobs)
	}()
}

func (s *Scheduler) run(ctx context.Context, jobs []Job) {
	now := time.Now()
	s.lastRun.Store(&now)
	s.runs.Add(1)
	for i, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := s.runJob(ctx, job); err != nil {
			s.log.Zerolog().Error().Err(err).Int("job", i).Msg("scheduled job failed")
		}
	}
}

// runJob isolates a job panic so one bad run cannot kill the daemon.
func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx)
}

// IsRunning reports whether the scheduler is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// State reports whether a run is in progress.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// NextRun returns the next timed trigger, or zero when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// NextRunAfter returns the first timed trigger after t, whether or not the
// scheduler is running.
func (s *Scheduler) NextRunAfter(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next(t)
}

// LastRun returns when the latest run began, or zero.
func (s *Scheduler) LastRun() time.Time {
	if t := s.lastRun.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Runs returns how many runs have started.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Skipped returns how many triggers were dropped because a run was in progress.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }
