package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marcus/slotwise/internal/db"
	"github.com/marcus/slotwise/internal/logging"
)

const taskColumns = `id, title, description, context, due_date,
	scheduled_start_time, scheduled_end_time, actual_start_time, actual_end_time, last_stopped_at,
	completed, needs_scheduling, priority, schedule_source, schedule_reasoning, created_at, updated_at`

// Store persists tasks in SQLite. Every transition is a single conditional
// statement, so the active-task and terminal-state rules hold across
// processes sharing the database file.
type Store struct {
	db       *db.DB
	log      *logging.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithRecorder sets the transition audit sink.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a task store over database.
func NewStore(database *db.DB, opts ...Option) *Store {
	s := &Store{
		db:  database,
		log: logging.Component("tasks"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var due, sStart, sEnd, aStart, aEnd, lastStop sql.NullString
	var created, updated, source string
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Context, &due,
		&sStart, &sEnd, &aStart, &aEnd, &lastStop,
		&t.Completed, &t.NeedsScheduling, &t.Priority, &source, &t.ScheduleReasoning,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{due, &t.DueDate},
		{sStart, &t.ScheduledStart},
		{sEnd, &t.ScheduledEnd},
		{aStart, &t.ActualStart},
		{aEnd, &t.ActualEnd},
		{lastStop, &t.LastStoppedAt},
	} {
		if *f.dst, err = db.ParseNullTime(f.src); err != nil {
			return nil, err
		}
	}
	if t.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	t.ScheduleSource = Source(source)
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

// Create inserts a task that still needs oracle scheduling. The caller
// supplies the provisional window.
func (s *Store) Create(ctx context.Context, in NewTask) (*Task, error) {
	if err := in.Normalize(); err != nil {
		return nil, err
	}
	if err := in.Window.Validate(); err != nil {
		return nil, err
	}
	source := in.Window.Source
	if source == "" {
		source = SourceFallback
	}

	now := s.stamp()
	var task *Task
	err := db.RetryOnBusy(ctx, 5, func() error {
		row := s.db.SQL().QueryRowContext(ctx, `
			INSERT INTO tasks (title, description, context, due_date, scheduled_start_time, scheduled_end_time,
				needs_scheduling, schedule_source, schedule_reasoning, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
			RETURNING `+taskColumns,
			in.Title, in.Description, in.Context, nullTime(in.DueDate),
			in.Window.Start.UTC(), in.Window.End.UTC(), string(source), in.Window.Reasoning, now, now)
		var err error
		task, err = scanTask(row)
		return err
	})
	if err != nil {
		if db.IsCheckViolation(err) {
			return nil, &Error{Kind: ErrValidation, Op: "create", Err: err}
		}
		return nil, persistence("create", 0, err)
	}

	s.transitioned(task.ID, TransitionCreate, formatWindow(in.Window), now)
	return task, nil
}

// Get returns a task by id.
func (s *Store) Get(ctx context.Context, id int64) (*Task, error) {
	row := s.db.SQL().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get", id)
	}
	if err != nil {
		return nil, persistence("get", id, err)
	}
	return t, nil
}

func (s *Store) list(ctx context.Context, op, where, order string, args ...any) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY ` + order

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence(op, 0, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, persistence(op, 0, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, 0, err)
	}
	return out, nil
}

// ListAll returns every task, highest priority first.
func (s *Store) ListAll(ctx context.Context) ([]*Task, error) {
	return s.list(ctx, "list", "", `priority DESC, due_date IS NULL, due_date, id`)
}

// ListIncomplete returns tasks that are not completed, in id order.
func (s *Store) ListIncomplete(ctx context.Context) ([]*Task, error) {
	return s.list(ctx, "list incomplete", `completed = 0`, `id`)
}

// ListNeedingScheduling returns incomplete tasks still waiting on the oracle.
func (s *Store) ListNeedingScheduling(ctx context.Context) ([]*Task, error) {
	return s.list(ctx, "list needing scheduling", `needs_scheduling = 1 AND completed = 0`, `created_at, id`)
}

// ListActive returns the active task, if any. It never holds more than one element.
func (s *Store) ListActive(ctx context.Context) ([]*Task, error) {
	return s.list(ctx, "list active", `actual_start_time IS NOT NULL AND completed = 0`, `id`)
}

// ListScheduled returns incomplete tasks with a window, ordered by start.
// Tasks whose id is in exclude are omitted.
func (s *Store) ListScheduled(ctx context.Context, exclude ...int64) ([]*Task, error) {
	all, err := s.list(ctx, "list scheduled", `completed = 0 AND scheduled_start_time IS NOT NULL`, `scheduled_start_time, id`)
	if err != nil {
		return nil, err
	}
	if len(exclude) == 0 {
		return all, nil
	}
	skip := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	out := all[:0]
	for _, t := range all {
		if !skip[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Start marks the task active. It fails with ErrConflict when the task is
// completed, already active, or another task is active.
func (s *Store) Start(ctx context.Context, id int64) (*Task, error) {
	now := s.stamp()
	t, err := s.transition(ctx, "start", id, `
		UPDATE tasks SET actual_start_time = ?, updated_at = ?
		WHERE id = ? AND completed = 0 AND actual_start_time IS NULL
		  AND NOT EXISTS (SELECT 1 FROM tasks WHERE actual_start_time IS NOT NULL AND completed = 0)
		RETURNING `+taskColumns, now, now, id)
	if err != nil {
		return nil, err
	}
	s.transitioned(id, TransitionStart, "", now)
	return t, nil
}

// Stop returns an active task to the stopped state.
func (s *Store) Stop(ctx context.Context, id int64) (*Task, error) {
	now := s.stamp()
	t, err := s.transition(ctx, "stop", id, `
		UPDATE tasks SET actual_start_time = NULL, last_stopped_at = ?, updated_at = ?
		WHERE id = ? AND completed = 0 AND actual_start_time IS NOT NULL
		RETURNING `+taskColumns, now, now, id)
	if err != nil {
		return nil, err
	}
	s.transitioned(id, TransitionStop, "", now)
	return t, nil
}

// Complete marks an active task completed. Completion is terminal.
func (s *Store) Complete(ctx context.Context, id int64) (*Task, error) {
	now := s.stamp()
	t, err := s.transition(ctx, "complete", id, `
		UPDATE tasks SET actual_end_time = ?, completed = 1, updated_at = ?
		WHERE id = ? AND completed = 0 AND actual_start_time IS NOT NULL
		RETURNING `+taskColumns, now, now, id)
	if err != nil {
		return nil, err
	}
	s.transitioned(id, TransitionComplete, "", now)
	return t, nil
}

// ApplySchedule stores a window and clears needs_scheduling.
func (s *Store) ApplySchedule(ctx context.Context, id int64, w Window) (*Task, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.Source == "" {
		w.Source = SourceOracle
	}
	now := s.stamp()
	t, err := s.transition(ctx, "apply schedule", id, `
		UPDATE tasks SET scheduled_start_time = ?, scheduled_end_time = ?, needs_scheduling = 0,
			schedule_source = ?, schedule_reasoning = ?, updated_at = ?
		WHERE id = ? AND completed = 0
		RETURNING `+taskColumns, w.Start.UTC(), w.End.UTC(), string(w.Source), w.Reasoning, now, id)
	if err != nil {
		return nil, err
	}
	s.transitioned(id, TransitionSchedule, formatWindow(w), now)
	return t, nil
}

// transition runs one conditional UPDATE ... RETURNING. When no row
// matches, it re-reads the task to report why.
func (s *Store) transition(ctx context.Context, op string, id int64, query string, args ...any) (*Task, error) {
	var t *Task
	err := db.RetryOnBusy(ctx, 5, func() error {
		var err error
		t, err = scanTask(s.db.SQL().QueryRowContext(ctx, query, args...))
		return err
	})
	switch {
	case err == nil:
		return t, nil
	case db.IsUniqueViolation(err):
		return nil, conflict(op, id, "another task is already active")
	case errors.Is(err, sql.ErrNoRows):
		return nil, s.explain(ctx, op, id)
	default:
		return nil, persistence(op, id, err)
	}
}

func (s *Store) explain(ctx context.Context, op string, id int64) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			te.Op = op
		}
		return err
	}
	switch {
	case current.Completed:
		return conflict(op, id, "task is completed")
	case op == "start" && current.ActualStart != nil:
		return conflict(op, id, "task is already active")
	case op == "start":
		return conflict(op, id, "another task is already active")
	case op == "complete":
		return conflict(op, id, "task has not been started")
	case op == "stop":
		return conflict(op, id, "task is not active")
	default:
		return conflict(op, id, "task changed concurrently")
	}
}

// Delete removes a task and reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := db.RetryOnBusy(ctx, 5, func() error {
		res, err := s.db.SQL().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, persistence("delete", id, err)
	}
	if n == 0 {
		return false, nil
	}
	s.transitioned(id, TransitionDelete, "", s.stamp())
	return true, nil
}

// BatchApplyPriorities commits every priority in one transaction. Any
// invalid score or missing task rolls back the whole batch.
func (s *Store) BatchApplyPriorities(ctx context.Context, priorities map[int64]float64) error {
	if len(priorities) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(priorities))
	for id, p := range priorities {
		if err := ValidatePriority(p); err != nil {
			var te *Error
			if errors.As(err, &te) {
				te.TaskID = id
			}
			return err
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := s.stamp()
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET priority = ?, updated_at = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, priorities[id], now, id)
			if err != nil {
				return persistence("batch priorities", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return persistence("batch priorities", id, err)
			}
			if n == 0 {
				return notFound("batch priorities", id)
			}
		}
		return nil
	})
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			return err
		}
		return persistence("batch priorities", 0, err)
	}

	for _, id := range ids {
		s.transitioned(id, TransitionPrioritize, fmt.Sprintf("%.2f", priorities[id]), now)
	}
	return nil
}

func (s *Store) transitioned(id int64, tr Transition, detail string, at time.Time) {
	fields := map[string]any{"task_id": id, "transition": string(tr)}
	if detail != "" {
		fields["detail"] = detail
	}
	s.log.InfoCtx("task transition", fields)
	if s.recorder != nil {
		s.recorder.RecordTransition(Event{TaskID: id, Transition: tr, Detail: detail, At: at})
	}
}
