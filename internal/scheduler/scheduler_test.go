package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/slotwise/internal/config"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewFromConfig_Cron(t *testing.T) {
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Cron: "*/5 * * * *"}}

	s, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if s.cronExpr != cfg.Scheduler.Cron {
		t.Errorf("cronExpr = %q, want %q", s.cronExpr, cfg.Scheduler.Cron)
	}
	if s.interval != 0 {
		t.Errorf("interval = %v, want 0", s.interval)
	}
}

func TestNewFromConfig_Interval(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		want     time.Duration
	}{
		{"explicit", "1m", time.Minute},
		{"default", "", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFromConfig(&config.Config{Scheduler: config.SchedulerConfig{Interval: tt.interval}})
			if err != nil {
				t.Fatalf("NewFromConfig() error = %v", err)
			}
			if s.interval != tt.want {
				t.Errorf("interval = %v, want %v", s.interval, tt.want)
			}
		})
	}
}

func TestNewFromConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SchedulerConfig
	}{
		{"bad cron", config.SchedulerConfig{Cron: "invalid cron"}},
		{"bad interval", config.SchedulerConfig{Interval: "not-a-duration"}},
		{"negative interval", config.SchedulerConfig{Interval: "-5s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFromConfig(&config.Config{Scheduler: tt.cfg}); err == nil {
				t.Error("NewFromConfig() expected error")
			}
		})
	}
}

func TestSetCron(t *testing.T) {
	s := New()

	if err := s.SetCron("0 2 * * *"); err != nil {
		t.Errorf("SetCron() error = %v", err)
	}
	if s.cronExpr != "0 2 * * *" {
		t.Errorf("cronExpr = %q, want %q", s.cronExpr, "0 2 * * *")
	}

	if err := s.SetCron("invalid"); err == nil {
		t.Error("SetCron() expected error for invalid expression")
	}
}

func TestSetInterval(t *testing.T) {
	s := New()

	if err := s.SetInterval(time.Hour); err != nil {
		t.Errorf("SetInterval() error = %v", err)
	}
	if s.interval != time.Hour {
		t.Errorf("interval = %v, want %v", s.interval, time.Hour)
	}
	if err := s.SetInterval(0); err == nil {
		t.Error("SetInterval(0) expected error")
	}
	if err := s.SetInterval(-time.Hour); err == nil {
		t.Error("SetInterval(-1h) expected error")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := New()
	_ = s.SetCron("* * * * *")

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false, want true")
	}
	if err := s.Start(ctx); err != ErrAlreadyRunning {
		t.Errorf("Start() twice error = %v, want %v", err, ErrAlreadyRunning)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop, want false")
	}
	if err := s.Stop(); err != ErrNotRunning {
		t.Errorf("Stop() twice error = %v, want %v", err, ErrNotRunning)
	}
	if !s.NextRun().IsZero() {
		t.Error("NextRun() should be zero after Stop")
	}
}

func TestScheduler_StartNoSchedule(t *testing.T) {
	if err := New().Start(context.Background()); err != ErrNoSchedule {
		t.Errorf("Start() error = %v, want %v", err, ErrNoSchedule)
	}
}

func TestScheduler_NextRun_Cron(t *testing.T) {
	s := New()
	_ = s.SetCron("* * * * *")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop() }()

	nextRun := s.NextRun()
	now := time.Now()
	if nextRun.Before(now) {
		t.Errorf("NextRun() = %v, should be after now (%v)", nextRun, now)
	}
	if nextRun.After(now.Add(time.Minute + time.Second)) {
		t.Errorf("NextRun() = %v, should be within next minute", nextRun)
	}
}

func TestScheduler_NextRun_Interval(t *testing.T) {
	s := New()
	_ = s.SetInterval(time.Hour)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop() }()

	expected := time.Now().Add(time.Hour)
	delta := s.NextRun().Sub(expected)
	if delta < -time.Second || delta > time.Second {
		t.Errorf("NextRun() = %v, expected ~%v", s.NextRun(), expected)
	}
}

func TestNextRunAfter(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 30, 15, 0, time.UTC)

	cron := New()
	_ = cron.SetCron("0 * * * *")
	if got, want := cron.NextRunAfter(base), time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("cron NextRunAfter() = %v, want %v", got, want)
	}

	interval := New()
	_ = interval.SetInterval(5 * time.Minute)
	if got, want := interval.NextRunAfter(base), base.Add(5*time.Minute); !got.Equal(want) {
		t.Errorf("interval NextRunAfter() = %v, want %v", got, want)
	}
	if !interval.NextRun().IsZero() {
		t.Error("NextRun() should stay zero until Start")
	}
}

func TestScheduler_JobExecution_Interval(t *testing.T) {
	s := New()
	_ = s.SetInterval(20 * time.Millisecond)

	var count atomic.Int32
	s.AddJob(func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return count.Load() >= 2 })
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.Runs() < 2 || s.LastRun().IsZero() {
		t.Errorf("Runs() = %d, LastRun() = %v", s.Runs(), s.LastRun())
	}
}

func TestScheduler_JobsRunInOrder(t *testing.T) {
	s := New()
	_ = s.SetInterval(time.Hour)

	var order []int
	done := make(chan struct{})
	s.AddJob(func(context.Context) error { order = append(order, 1); return errors.New("first fails") })
	s.AddJob(func(context.Context) error { order = append(order, 2); close(done); return nil })

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop() }()
	s.Trigger()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not run")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]; a failing job must not stop later jobs", order)
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := New()
	_ = s.SetInterval(10 * time.Millisecond)

	var active, maxActive, count atomic.Int32
	release := make(chan struct{})
	s.AddJob(func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		count.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return s.State() == StateRunning })
	waitFor(t, func() bool { return s.Skipped() >= 3 })

	if count.Load() != 1 {
		t.Errorf("job started %d times while the first run was in progress", count.Load())
	}
	close(release)
	waitFor(t, func() bool { return count.Load() >= 2 })

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxActive.Load())
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v after Stop, want idle", s.State())
	}
}

func TestScheduler_StopWaitsForRun(t *testing.T) {
	s := New()
	_ = s.SetInterval(time.Hour)

	var finished atomic.Bool
	started := make(chan struct{})
	s.AddJob(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Trigger()
	<-started

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Error("Stop returned before the in-flight run finished")
	}
}

func TestScheduler_RecoversJobPanic(t *testing.T) {
	s := New()
	_ = s.SetInterval(10 * time.Millisecond)

	var count atomic.Int32
	s.AddJob(func(context.Context) error {
		count.Add(1)
		panic("boom")
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return count.Load() >= 2 })
	_ = s.Stop()
}

func TestScheduler_ContextCancellation(t *testing.T) {
	s := New()
	_ = s.SetInterval(10 * time.Millisecond)

	var count atomic.Int32
	s.AddJob(func(context.Context) error {
		count.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()
	time.Sleep(50 * time.Millisecond)
	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	if count.Load() != after {
		t.Error("jobs kept running after the parent context was cancelled")
	}
	// Still marked as started until Stop is called.
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateRunning.String() != "running" {
		t.Errorf("State strings = %q, %q", StateIdle, StateRunning)
	}
}
