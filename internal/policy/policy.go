// Package policy wraps oracle calls with bounded retries and supplies the
// deterministic fallback window used when the oracle cannot be reached.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/slotwise/internal/config"
	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/oracle"
	"github.com/marcus/slotwise/internal/tasks"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Defaults match the shipped configuration.
const (
	DefaultMaxAttempts      = 3
	DefaultInitialDelay     = time.Second
	DefaultMaxDelay         = 10 * time.Second
	DefaultFallbackStart    = 9 * time.Hour
	DefaultFallbackDuration = time.Hour
)

// Config tunes retries and the fallback window.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// FallbackStart is the offset from midnight of the fallback day.
	FallbackStart    time.Duration
	FallbackDuration time.Duration
	Location         *time.Location
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      DefaultMaxAttempts,
		InitialDelay:     DefaultInitialDelay,
		MaxDelay:         DefaultMaxDelay,
		FallbackStart:    DefaultFallbackStart,
		FallbackDuration: DefaultFallbackDuration,
		Location:         time.Local,
	}
}

// ConfigFrom derives a policy config from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	pc := DefaultConfig()
	if cfg == nil {
		return pc
	}
	if cfg.Oracle.MaxAttempts > 0 {
		pc.MaxAttempts = cfg.Oracle.MaxAttempts
	}
	pc.InitialDelay = cfg.BackoffInitial()
	pc.MaxDelay = cfg.BackoffMax()
	if h, m, err := config.ParseClock(cfg.Fallback.Start); err == nil {
		pc.FallbackStart = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	}
	if d := cfg.FallbackDuration(); d > 0 {
		pc.FallbackDuration = d
	}
	pc.Location = cfg.FallbackLocation()
	return pc
}

// Policy applies Config to oracle calls.
type Policy struct {
	cfg   Config
	log   *logging.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a policy. Zero fields in cfg take their defaults.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.InitialDelay)
	}
	if cfg.FallbackStart < 0 || cfg.FallbackStart >= 24*time.Hour {
		cfg.FallbackStart = def.FallbackStart
	}
	if cfg.FallbackDuration <= 0 {
		cfg.FallbackDuration = def.FallbackDuration
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Policy{cfg: cfg, log: logging.Component("policy"), sleep: sleepCtx}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config { return p.cfg }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the wait before the given retry (1-based): InitialDelay
// doubled per attempt, capped at MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	d := p.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	return min(d, p.cfg.MaxDelay)
}

// Do calls fn until it succeeds or MaxAttempts is reached. Context
// cancellation stops retrying and is returned as is.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.Delay(attempt-1)); err != nil {
				return err
			}
		}
		err := fn(oracle.WithAttempt(ctx, attempt))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		p.log.Zerolog().Warn().Err(err).Str("op", op).Int("attempt", attempt).
			Int("max_attempts", p.cfg.MaxAttempts).Msg("oracle attempt failed")
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, p.cfg.MaxAttempts, lastErr)
}

// FallbackWindow returns the deterministic window for a task created at
// now: FallbackStart after the next local midnight, lasting
// FallbackDuration. The start is midnight today plus 24h plus the offset,
// computed as elapsed time so DST changes never skip or repeat an hour.
func (p *Policy) FallbackWindow(now time.Time) tasks.Window {
	local := now.In(p.cfg.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.cfg.Location)
	start := midnight.Add(24*time.Hour + p.cfg.FallbackStart)
	return tasks.Window{
		Start:     start,
		End:       start.Add(p.cfg.FallbackDuration),
		Source:    tasks.SourceFallback,
		Reasoning: "fallback schedule",
	}
}

// Schedule asks o for a window, retrying on failure. After the last
// attempt it returns the fallback window with fellBack set. err is only
// non-nil when ctx was cancelled.
func (p *Policy) Schedule(ctx context.Context, o oracle.Oracle, req oracle.ScheduleRequest) (w tasks.Window, fellBack bool, err error) {
	var res oracle.ScheduleResult
	err = p.Do(ctx, oracle.OpAssignSchedule, func(ctx context.Context) error {
		var callErr error
		res, callErr = o.AssignSchedule(ctx, req)
		return callErr
	})
	switch {
	case err == nil:
		return tasks.Window{Start: res.Start, End: res.End, Source: tasks.SourceOracle, Reasoning: res.Reasoning}, false, nil
	case errors.Is(err, ErrExhausted):
		now := req.Now
		if now.IsZero() {
			now = time.Now()
		}
		fw := p.FallbackWindow(now)
		fw.Reasoning = fmt.Sprintf("fallback schedule: %v", err)
		return fw, true, nil
	default:
		return tasks.Window{}, false, err
	}
}

// Priorities asks o for scores, retrying on failure. On exhaustion the
// error wraps ErrExhausted and callers must leave priorities untouched.
func (p *Policy) Priorities(ctx context.Context, o oracle.Oracle, req oracle.PriorityRequest) (map[int64]float64, error) {
	var scores map[int64]float64
	err := p.Do(ctx, oracle.OpAssignPriorities, func(ctx context.Context) error {
		var callErr error
		scores, callErr = o.AssignPriorities(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}
