// Package planner implements one background tick: schedule new tasks,
// reprioritize when anything was scheduled, then reschedule tasks whose
// window lapsed.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/oracle"
	"github.com/marcus/slotwise/internal/policy"
	"github.com/marcus/slotwise/internal/reprioritize"
	"github.com/marcus/slotwise/internal/tasks"
)

// TaskStore is the subset of the task store a tick uses.
type TaskStore interface {
	ListNeedingScheduling(ctx context.Context) ([]*tasks.Task, error)
	ListIncomplete(ctx context.Context) ([]*tasks.Task, error)
	ListScheduled(ctx context.Context, exclude ...int64) ([]*tasks.Task, error)
	ApplySchedule(ctx context.Context, id int64, w tasks.Window) (*tasks.Task, error)
}

// ContextSource supplies the global context text.
type ContextSource interface {
	Text(ctx context.Context) (string, error)
}

// Reprioritizer runs a priority batch.
type Reprioritizer interface {
	Run(ctx context.Context) (reprioritize.Result, error)
}

// Listener is told about every committed schedule.
type Listener interface {
	Scheduled(ctx context.Context, t *tasks.Task)
}

// Report summarizes one tick.
type Report struct {
	TickID        string
	Scheduled     int
	FellBack      int
	Reprioritized int
	Rescheduled   int
	Skipped       int
	Failed        int
	Duration      time.Duration
}

// Planner runs ticks. It holds no per-tick state and is safe to reuse.
type Planner struct {
	store     TaskStore
	global    ContextSource
	oracle    oracle.Oracle
	policy    *policy.Policy
	reprio    Reprioritizer
	listeners []Listener
	log       *logging.Logger
	now       func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithListener adds a schedule listener.
func WithListener(l Listener) Option {
	return func(p *Planner) { p.listeners = append(p.listeners, l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Planner) { p.log = l }
}

// New creates a planner. reprio may be nil to skip reprioritization.
func New(store TaskStore, global ContextSource, o oracle.Oracle, pol *policy.Policy, reprio Reprioritizer, opts ...Option) *Planner {
	p := &Planner{
		store:  store,
		global: global,
		oracle: o,
		policy: pol,
		reprio: reprio,
		log:    logging.Component("planner"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tick runs the three steps in order. Per-task failures are counted and
// logged, never returned; the error is non-nil only when a listing query
// fails or ctx is cancelled.
func (p *Planner) Tick(ctx context.Context) (Report, error) {
	start := p.now()
	rep := Report{TickID: uuid.NewString()}
	log := p.log.Zerolog().With().Str("tick_id", rep.TickID).Logger()

	globalText, err := p.globalText(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("global context unavailable, scheduling without it")
	}

	pending, err := p.store.ListNeedingScheduling(ctx)
	if err != nil {
		return rep, fmt.Errorf("list needing scheduling: %w", err)
	}
	handled := make(map[int64]bool, len(pending))
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		handled[t.ID] = true
		p.scheduleOne(ctx, &rep, t, globalText, false)
	}

	if rep.Scheduled > 0 && p.reprio != nil {
		res, err := p.reprio.Run(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("reprioritization failed, priorities unchanged")
		case res.Applied:
			rep.Reprioritized = res.Tasks
		}
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	open, err := p.store.ListIncomplete(ctx)
	if err != nil {
		return rep, fmt.Errorf("list incomplete: %w", err)
	}
	now := p.now()
	for _, t := range open {
		if handled[t.ID] || t.NeedsScheduling || !t.IsStuck(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		p.scheduleOne(ctx, &rep, t, globalText, true)
	}

	rep.Duration = p.now().Sub(start)
	if rep.Scheduled+rep.Rescheduled+rep.Skipped+rep.Failed > 0 {
		log.Info().
			Int("scheduled", rep.Scheduled).
			Int("fell_back", rep.FellBack).
			Int("reprioritized", rep.Reprioritized).
			Int("rescheduled", rep.Rescheduled).
			Int("skipped", rep.Skipped).
			Int("failed", rep.Failed).
			Dur("duration", rep.Duration).
			Msg("tick complete")
	}
	return rep, nil
}

// scheduleOne obtains and commits a window for t. The existing schedule
// shown to the oracle is read fresh and excludes t itself, so windows
// committed earlier in the tick are visible.
func (p *Planner) scheduleOne(ctx context.Context, rep *Report, t *tasks.Task, globalText string, reschedule bool) {
	log := p.log.Zerolog().With().Int64("task_id", t.ID).Bool("reschedule", reschedule).Logger()

	existing, err := p.store.ListScheduled(ctx, t.ID)
	if err != nil {
		log.Error().Err(err).Msg("reading existing schedule failed")
		rep.Failed++
		return
	}

	w, fellBack, err := p.policy.Schedule(ctx, p.oracle, oracle.ScheduleRequest{
		Task:          t,
		GlobalContext: globalText,
		Existing:      oracle.SlotsFrom(existing),
		Now:           p.now(),
	})
	if err != nil {
		// Only cancellation reaches here; the task stays as it was.
		log.Warn().Err(err).Msg("scheduling abandoned")
		return
	}

	updated, err := p.store.ApplySchedule(ctx, t.ID, w)
	switch {
	case errors.Is(err, tasks.ErrNotFound), errors.Is(err, tasks.ErrConflict):
		log.Info().Err(err).Msg("task changed during scheduling, skipped")
		rep.Skipped++
		return
	case err != nil:
		log.Error().Err(err).Msg("applying schedule failed, will retry next tick")
		rep.Failed++
		return
	}

	if reschedule {
		rep.Rescheduled++
	} else {
		rep.Scheduled++
	}
	if fellBack {
		rep.FellBack++
	}
	for _, l := range p.listeners {
		l.Scheduled(ctx, updated)
	}
}

func (p *Planner) globalText(ctx context.Context) (string, error) {
	if p.global == nil {
		return "", nil
	}
	return p.global.Text(ctx)
}
