package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/slotwise/internal/config"
	"github.com/marcus/slotwise/internal/oracle"
	"github.com/marcus/slotwise/internal/tasks"
)

// scriptedOracle fails the first failures calls of each kind.
type scriptedOracle struct {
	failures  int
	calls     int
	window    oracle.ScheduleResult
	scores    map[int64]float64
	failWith  error
	cancelOn  int
	cancelCtx context.CancelFunc
}

func (s *scriptedOracle) next() error {
	s.calls++
	if s.cancelOn > 0 && s.calls == s.cancelOn {
		s.cancelCtx()
	}
	if s.calls <= s.failures {
		if s.failWith != nil {
			return s.failWith
		}
		return &oracle.Error{Op: "test", Err: errors.New("malformed")}
	}
	return nil
}

func (s *scriptedOracle) AssignSchedule(_ context.Context, _ oracle.ScheduleRequest) (oracle.ScheduleResult, error) {
	if err := s.next(); err != nil {
		return oracle.ScheduleResult{}, err
	}
	return s.window, nil
}

func (s *scriptedOracle) AssignPriorities(_ context.Context, _ oracle.PriorityRequest) (map[int64]float64, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return s.scores, nil
}

type recordedSleeps struct{ delays []time.Duration }

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func newTestPolicy(cfg Config) (*Policy, *recordedSleeps) {
	p := New(cfg)
	rec := &recordedSleeps{}
	p.sleep = rec.sleep
	return p, rec
}

func TestDelay(t *testing.T) {
	p := New(Config{InitialDelay: time.Second, MaxDelay: 10 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	p, sleeps := newTestPolicy(DefaultConfig())
	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != time.Second || sleeps.delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", sleeps.delays)
	}
}

func TestDoExhausts(t *testing.T) {
	p, _ := newTestPolicy(DefaultConfig())
	cause := errors.New("down")
	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, cause) {
		t.Fatalf("error = %v, want ErrExhausted wrapping cause", err)
	}
	if calls != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", calls, DefaultMaxAttempts)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	p := New(Config{MaxAttempts: 5, InitialDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func(context.Context) error {
			calls++
			return errors.New("down")
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestScheduleUsesOracleWindow(t *testing.T) {
	p, _ := newTestPolicy(DefaultConfig())
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	o := &scriptedOracle{failures: 1, window: oracle.ScheduleResult{Start: start, End: start.Add(time.Hour), Reasoning: "ok"}}

	w, fellBack, err := p.Schedule(context.Background(), o, oracle.ScheduleRequest{Task: &tasks.Task{ID: 1}})
	if err != nil || fellBack {
		t.Fatalf("Schedule() = fellBack %v, err %v", fellBack, err)
	}
	if w.Source != tasks.SourceOracle || !w.Start.Equal(start) || w.Reasoning != "ok" {
		t.Errorf("window = %+v", w)
	}
	if o.calls != 2 {
		t.Errorf("oracle calls = %d, want 2", o.calls)
	}
}

func TestScheduleFallsBackAfterThreeFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	p, _ := newTestPolicy(cfg)
	o := &scriptedOracle{failures: 3}
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	w, fellBack, err := p.Schedule(context.Background(), o, oracle.ScheduleRequest{Task: &tasks.Task{ID: 1}, Now: created})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if !fellBack || w.Source != tasks.SourceFallback {
		t.Fatalf("expected fallback, got %+v", w)
	}
	want := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	if !w.Start.Equal(want) || w.End.Sub(w.Start) != time.Hour {
		t.Errorf("window = %v..%v, want %v for 1h", w.Start, w.End, want)
	}
	if o.calls != 3 {
		t.Errorf("oracle calls = %d, want 3", o.calls)
	}
}

func TestScheduleCancelledDoesNotFallBack(t *testing.T) {
	p, _ := newTestPolicy(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	o := &scriptedOracle{failures: 3, cancelOn: 1, cancelCtx: cancel}

	_, fellBack, err := p.Schedule(ctx, o, oracle.ScheduleRequest{Task: &tasks.Task{ID: 1}})
	if !errors.Is(err, context.Canceled) || fellBack {
		t.Errorf("Schedule() = fellBack %v, err %v; want cancellation", fellBack, err)
	}
}

func TestPrioritiesExhausted(t *testing.T) {
	p, _ := newTestPolicy(DefaultConfig())
	o := &scriptedOracle{failures: 3, scores: map[int64]float64{1: 5}}
	scores, err := p.Priorities(context.Background(), o, oracle.PriorityRequest{})
	if !errors.Is(err, ErrExhausted) || scores != nil {
		t.Errorf("Priorities() = %v, %v; want ErrExhausted", scores, err)
	}

	o = &scriptedOracle{failures: 2, scores: map[int64]float64{1: 5}}
	scores, err = p.Priorities(context.Background(), o, oracle.PriorityRequest{})
	if err != nil || scores[1] != 5 {
		t.Errorf("Priorities() = %v, %v", scores, err)
	}
}

func TestFallbackWindowAcrossSpringForward(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Location = ny
	p := New(cfg)

	// 2025-03-09 is the spring-forward day in New York.
	created := time.Date(2025, 3, 8, 15, 0, 0, 0, ny)
	w := p.FallbackWindow(created)

	midnight := time.Date(2025, 3, 8, 0, 0, 0, 0, ny)
	if got := w.Start.Sub(midnight); got != 24*time.Hour+9*time.Hour {
		t.Errorf("start is %v after midnight, want 33h", got)
	}
	if w.End.Sub(w.Start) != time.Hour {
		t.Errorf("duration = %v, want 1h", w.End.Sub(w.Start))
	}
	if err := w.Validate(); err != nil {
		t.Errorf("fallback window invalid: %v", err)
	}
}

func TestFallbackWindowUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	cfg := DefaultConfig()
	cfg.Location = tokyo
	cfg.FallbackStart = 8*time.Hour + 30*time.Minute
	cfg.FallbackDuration = 45 * time.Minute
	p := New(cfg)

	// 20:00 UTC on Jan 1 is already Jan 2 in Tokyo.
	w := p.FallbackWindow(time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC))
	want := time.Date(2025, 1, 3, 8, 30, 0, 0, tokyo)
	if !w.Start.Equal(want) || w.End.Sub(w.Start) != 45*time.Minute {
		t.Errorf("window = %v..%v, want %v", w.Start, w.End, want)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Fallback: config.FallbackConfig{Start: "07:15", Duration: "30m", Timezone: "UTC"},
		Oracle:   config.OracleConfig{MaxAttempts: 5, BackoffInitial: "2s", BackoffMax: "20s"},
	}
	pc := ConfigFrom(cfg)
	if pc.MaxAttempts != 5 || pc.InitialDelay != 2*time.Second || pc.MaxDelay != 20*time.Second {
		t.Errorf("retry config = %+v", pc)
	}
	if pc.FallbackStart != 7*time.Hour+15*time.Minute || pc.FallbackDuration != 30*time.Minute {
		t.Errorf("fallback config = %+v", pc)
	}
	if pc.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", pc.Location)
	}
	if got := ConfigFrom(nil); got.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("ConfigFrom(nil) = %+v", got)
	}
}
