// Package oracle is the client for the AI service that assigns time slots
// and priority scores. Responses are treated as untrusted: every timestamp
// and score is validated before it reaches the task store.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/slotwise/internal/tasks"
)

// Operation names, also used as the op column of the call log.
const (
	OpAssignSchedule   = "assign_schedule"
	OpAssignPriorities = "assign_priorities"
)

// ErrOracle matches every failure of an oracle call: transport errors,
// timeouts, and malformed or out-of-range responses.
var ErrOracle = errors.New("oracle error")

// Error wraps an oracle failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("oracle %s failed", e.Op)
	}
	return fmt.Sprintf("oracle %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrOracle }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Slot is an existing scheduled window shown to the oracle.
type Slot struct {
	ID    int64     `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
}

// SlotsFrom converts scheduled tasks to slots.
func SlotsFrom(ts []*tasks.Task) []Slot {
	slots := make([]Slot, 0, len(ts))
	for _, t := range ts {
		if t.ScheduledStart == nil || t.ScheduledEnd == nil {
			continue
		}
		slots = append(slots, Slot{ID: t.ID, Title: t.Title, Start: *t.ScheduledStart, End: *t.ScheduledEnd})
	}
	return slots
}

// ScheduleRequest asks for a window for one task.
type ScheduleRequest struct {
	Task          *tasks.Task
	GlobalContext string
	Existing      []Slot
	Now           time.Time
}

// ScheduleResult is a validated window.
type ScheduleResult struct {
	Start     time.Time
	End       time.Time
	Reasoning string
}

// PriorityRequest asks for scores for a snapshot of tasks.
type PriorityRequest struct {
	Tasks         []*tasks.Task
	GlobalContext string
	Now           time.Time
}

// Oracle assigns schedules and priorities.
type Oracle interface {
	AssignSchedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error)
	AssignPriorities(ctx context.Context, req PriorityRequest) (map[int64]float64, error)
}

type attemptKey struct{}

// WithAttempt tags ctx with the retry attempt number for the call log.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

func attemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 1
}
