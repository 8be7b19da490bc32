package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/slotwise/internal/db"
	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/tasks"
)

func TestNewFileLogger(t *testing.T) {
	logger, err := NewFileLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	if logger.sessionID == "" {
		t.Error("expected session ID to be set")
	}
	if logger.file == nil {
		t.Error("expected log file to be open")
	}
}

func TestFileLogger_Log(t *testing.T) {
	logger, err := NewFileLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	sink := FileSink{File: logger, Log: logging.Nop()}
	sink.RecordTransition(tasks.Event{TaskID: 3, Transition: tasks.TransitionStart})
	sink.RecordOracleCall(OracleCall{Op: "assign_schedule", TaskID: 3, Attempt: 2, Duration: 1500 * time.Millisecond, Error: "timeout"})

	files, err := logger.LogFiles()
	if err != nil {
		t.Fatalf("LogFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one log file, got %d", len(files))
	}

	events, err := ReadEvents(files[0])
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	if e := events[0]; e.EventType != EventTransition || e.TaskID != 3 || e.Transition != "start" {
		t.Errorf("unexpected transition event: %+v", e)
	}
	e := events[1]
	if e.EventType != EventOracleCall || e.Op != "assign_schedule" || e.Attempt != 2 || e.Error != "timeout" {
		t.Errorf("unexpected oracle event: %+v", e)
	}
	if e.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", e.Duration)
	}
	if e.SessionID == "" || e.RequestID == "" {
		t.Error("expected session and request IDs")
	}
	if events[0].SessionID != e.SessionID {
		t.Error("events from one logger should share a session ID")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}
}

func TestFileLogger_RotatesDaily(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewFileLogger(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = logger.Close() }()

	day := time.Date(2025, 3, 9, 23, 59, 0, 0, time.Local)
	logger.now = func() time.Time { return day }
	if err := logger.Log(Event{EventType: EventTransition, TaskID: 1}); err != nil {
		t.Fatal(err)
	}
	day = day.Add(2 * time.Minute)
	if err := logger.Log(Event{EventType: EventTransition, TaskID: 2}); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"audit-2025-03-09.jsonl", "audit-2025-03-10.jsonl"} {
		if _, err := os.Stat(filepath.Join(tmpDir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestReadEventsSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	content := `{"event_type":"transition","task_id":1}
not json
{"event_type":"oracle_call","op":"assign_priorities"}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	events, err := ReadEvents(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func newTestDBSink(t *testing.T) *DBSink {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return NewDBSink(database)
}

func TestDBSink(t *testing.T) {
	sink := newTestDBSink(t)
	ctx := context.Background()

	sink.RecordTransition(tasks.Event{TaskID: 5, Transition: tasks.TransitionCreate, Detail: "fallback"})
	sink.RecordTransition(tasks.Event{TaskID: 5, Transition: tasks.TransitionSchedule})
	sink.RecordTransition(tasks.Event{TaskID: 6, Transition: tasks.TransitionCreate})
	for i := 1; i <= 3; i++ {
		sink.RecordOracleCall(OracleCall{Op: "assign_schedule", TaskID: 5, Attempt: i, Duration: time.Second})
	}
	sink.RecordOracleCall(OracleCall{Op: "assign_priorities", Outputs: `{"5":3}`})

	history, err := sink.TaskHistory(ctx, 5)
	if err != nil {
		t.Fatalf("TaskHistory() error: %v", err)
	}
	if len(history) != 2 || history[0].Transition != "create" || history[1].Transition != "schedule" {
		t.Errorf("TaskHistory() = %+v", history)
	}
	if history[0].Detail != "fallback" {
		t.Errorf("Detail = %q, want fallback", history[0].Detail)
	}

	calls, err := sink.RecentCalls(ctx, 2)
	if err != nil {
		t.Fatalf("RecentCalls() error: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("RecentCalls(2) returned %d", len(calls))
	}
	if calls[0].Op != "assign_priorities" || calls[0].TaskID != 0 {
		t.Errorf("newest call = %+v", calls[0])
	}
	if calls[1].Attempt != 3 || calls[1].Duration != time.Second || calls[1].TaskID != 5 {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestDBSinkSwallowsFailures(t *testing.T) {
	sink := newTestDBSink(t)
	_ = sink.db.Close()

	// Must not panic or block once the database is gone.
	sink.RecordTransition(tasks.Event{TaskID: 1, Transition: tasks.TransitionStart})
	sink.RecordOracleCall(OracleCall{Op: "assign_schedule"})

	if _, err := sink.RecentCalls(context.Background(), 5); err == nil {
		t.Error("expected query error on closed database")
	}
}

type countingSink struct{ transitions, calls int }

func (c *countingSink) RecordTransition(tasks.Event) { c.transitions++ }
func (c *countingSink) RecordOracleCall(OracleCall)  { c.calls++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, Nop{}, b}
	m.RecordTransition(tasks.Event{TaskID: 1})
	m.RecordOracleCall(OracleCall{})
	m.RecordOracleCall(OracleCall{})

	for _, c := range []*countingSink{a, b} {
		if c.transitions != 1 || c.calls != 2 {
			t.Errorf("sink got transitions=%d calls=%d", c.transitions, c.calls)
		}
	}
	var _ Sink = m
	var _ tasks.Recorder = m
}
