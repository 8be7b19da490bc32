package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/slotwise/internal/db"
	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/tasks"
)

const writeTimeout = 2 * time.Second

// OracleCall is one request to the scheduling oracle.
type OracleCall struct {
	ID        int64
	Op        string
	TaskID    int64 // 0 for batch calls
	Inputs    string
	Outputs   string
	Error     string
	Duration  time.Duration
	Attempt   int
	CreatedAt time.Time
}

// Sink receives transition and oracle-call records.
type Sink interface {
	RecordTransition(ev tasks.Event)
	RecordOracleCall(call OracleCall)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTransition(tasks.Event) {}
func (Nop) RecordOracleCall(OracleCall)  {}

// Multi fans records out to every sink.
type Multi []Sink

func (m Multi) RecordTransition(ev tasks.Event) {
	for _, s := range m {
		s.RecordTransition(ev)
	}
}

func (m Multi) RecordOracleCall(call OracleCall) {
	for _, s := range m {
		s.RecordOracleCall(call)
	}
}

// FileSink adapts a FileLogger to Sink. Write errors are logged and dropped.
type FileSink struct {
	File *FileLogger
	Log  *logging.Logger
}

func (f FileSink) RecordTransition(ev tasks.Event) {
	err := f.File.Log(Event{
		Timestamp:  ev.At,
		EventType:  EventTransition,
		TaskID:     ev.TaskID,
		Transition: string(ev.Transition),
		Detail:     ev.Detail,
	})
	if err != nil && f.Log != nil {
		f.Log.Err(err).Int64("task_id", ev.TaskID).Msg("audit file write failed")
	}
}

func (f FileSink) RecordOracleCall(call OracleCall) {
	err := f.File.Log(Event{
		Timestamp: call.CreatedAt,
		EventType: EventOracleCall,
		TaskID:    call.TaskID,
		Op:        call.Op,
		Attempt:   call.Attempt,
		Duration:  call.Duration,
		Error:     call.Error,
		Inputs:    call.Inputs,
		Outputs:   call.Outputs,
	})
	if err != nil && f.Log != nil {
		f.Log.Err(err).Str("op", call.Op).Msg("audit file write failed")
	}
}

// DBSink writes records to the task_events and oracle_calls tables.
type DBSink struct {
	db  *db.DB
	log *logging.Logger
}

// NewDBSink creates a database-backed sink.
func NewDBSink(database *db.DB) *DBSink {
	return &DBSink{db: database, log: logging.Component("audit")}
}

func (s *DBSink) RecordTransition(ev tasks.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	err := db.RetryOnBusy(ctx, 3, func() error {
		_, err := s.db.SQL().ExecContext(ctx,
			`INSERT INTO task_events (task_id, transition, detail, created_at) VALUES (?, ?, ?, ?)`,
			ev.TaskID, string(ev.Transition), ev.Detail, at.UTC())
		return err
	})
	if err != nil {
		s.log.Err(err).Int64("task_id", ev.TaskID).Str("transition", string(ev.Transition)).Msg("record transition failed")
	}
}

func (s *DBSink) RecordOracleCall(call OracleCall) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	at := call.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	var taskID any
	if call.TaskID != 0 {
		taskID = call.TaskID
	}
	err := db.RetryOnBusy(ctx, 3, func() error {
		_, err := s.db.SQL().ExecContext(ctx, `
			INSERT INTO oracle_calls (op, task_id, inputs, outputs, error, duration_ms, attempt, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			call.Op, taskID, call.Inputs, call.Outputs, call.Error, call.Duration.Milliseconds(), call.Attempt, at.UTC())
		return err
	})
	if err != nil {
		s.log.Err(err).Str("op", call.Op).Msg("record oracle call failed")
	}
}

// RecentCalls returns the latest n oracle calls, newest first.
func (s *DBSink) RecentCalls(ctx context.Context, n int) ([]OracleCall, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT id, op, task_id, inputs, outputs, error, duration_ms, attempt, created_at
		FROM oracle_calls ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query oracle calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OracleCall
	for rows.Next() {
		var c OracleCall
		var taskID sql.NullInt64
		var ms int64
		var created string
		if err := rows.Scan(&c.ID, &c.Op, &taskID, &c.Inputs, &c.Outputs, &c.Error, &ms, &c.Attempt, &created); err != nil {
			return nil, fmt.Errorf("scan oracle call: %w", err)
		}
		c.TaskID = taskID.Int64
		c.Duration = time.Duration(ms) * time.Millisecond
		if c.CreatedAt, err = db.ParseTime(created); err != nil {
			return nil, fmt.Errorf("scan oracle call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionRecord is a stored task_events row.
type TransitionRecord struct {
	TaskID     int64
	Transition string
	Detail     string
	CreatedAt  time.Time
}

// TaskHistory returns the transitions recorded for a task, oldest first.
func (s *DBSink) TaskHistory(ctx context.Context, taskID int64) ([]TransitionRecord, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `
		SELECT task_id, transition, detail, created_at
		FROM task_events WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		var created string
		if err := rows.Scan(&r.TaskID, &r.Transition, &r.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		if r.CreatedAt, err = db.ParseTime(created); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
