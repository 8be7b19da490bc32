package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/slotwise/internal/audit"
	"github.com/marcus/slotwise/internal/tasks"
)

func window(start time.Time, d time.Duration) (*time.Time, *time.Time) {
	end := start.Add(d)
	return &start, &end
}

func TestRenderStatusEmpty(t *testing.T) {
	out := renderStatus(nil, nil, nil, 5, time.Now())
	for _, want := range []string{"No active task", "Open: 0", "Nothing scheduled"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderStatus() missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	started := now.Add(-25 * time.Minute)

	active := &tasks.Task{ID: 1, Title: "Deep work", ActualStart: &started}
	active.ScheduledStart, active.ScheduledEnd = window(now.Add(-30*time.Minute), time.Hour)

	next1 := &tasks.Task{ID: 2, Title: "Emails"}
	next1.ScheduledStart, next1.ScheduledEnd = window(now.Add(time.Hour), 30*time.Minute)
	next2 := &tasks.Task{ID: 3, Title: "Groceries"}
	next2.ScheduledStart, next2.ScheduledEnd = window(now.Add(3*time.Hour), time.Hour)

	lapsed := &tasks.Task{ID: 4, Title: "Call bank"}
	lapsed.ScheduledStart, lapsed.ScheduledEnd = window(now.Add(-3*time.Hour), time.Hour)
	pending := &tasks.Task{ID: 5, Title: "New idea", NeedsScheduling: true}

	open := []*tasks.Task{active, next1, next2, lapsed, pending}
	upcoming := []*tasks.Task{active, next1, next2}

	out := renderStatus(active, upcoming, open, 1, now)
	for _, want := range []string{"Deep work", "started 25m0s ago", "Open: 5", "awaiting window: 1", "lapsed: 1", "Emails"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderStatus() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Groceries") {
		t.Errorf("renderStatus() should stop after n entries:\n%s", out)
	}
}

func TestCallResult(t *testing.T) {
	if got := callResult(audit.OracleCall{}); got != "ok" {
		t.Errorf("callResult(ok) = %q", got)
	}
	long := strings.Repeat("x", 100)
	got := callResult(audit.OracleCall{Error: long})
	if !strings.HasPrefix(got, "error: ") || !strings.HasSuffix(got, "...") || len(got) != len("error: ")+60 {
		t.Errorf("callResult(long) = %q", got)
	}
	if got := callTask(audit.OracleCall{}); got != "batch" {
		t.Errorf("callTask(batch) = %q", got)
	}
	if got := callTask(audit.OracleCall{TaskID: 9}); got != "task 9" {
		t.Errorf("callTask(9) = %q", got)
	}
}
