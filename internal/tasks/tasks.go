// Package tasks defines the Task entity, its lifecycle states, and the
// SQLite-backed store that enforces the lifecycle invariants.
package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Limits on user-supplied text.
const (
	MaxTitleLen   = 200
	MaxTextLen    = 2000
	MinPriority   = 0.0
	MaxPriority   = 10.0
	DefaultWindow = time.Hour
)

// State is the lifecycle state derived from a task's fields.
type State string

const (
	StateNew       State = "new"
	StateScheduled State = "scheduled"
	StateActive    State = "active"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
)

// Source records who assigned the current schedule window.
type Source string

const (
	SourceFallback Source = "fallback"
	SourceOracle   Source = "oracle"
)

// Task is a unit of personal work with an assigned time window.
type Task struct {
	ID                int64
	Title             string
	Description       string
	Context           string
	DueDate           *time.Time
	ScheduledStart    *time.Time
	ScheduledEnd      *time.Time
	ActualStart       *time.Time
	ActualEnd         *time.Time
	LastStoppedAt     *time.Time
	Completed         bool
	NeedsScheduling   bool
	Priority          float64
	ScheduleSource    Source
	ScheduleReasoning string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// State derives the lifecycle state.
func (t *Task) State() State {
	switch {
	case t.Completed:
		return StateCompleted
	case t.ActualStart != nil:
		return StateActive
	case t.LastStoppedAt != nil:
		return StateStopped
	case t.NeedsScheduling:
		return StateNew
	default:
		return StateScheduled
	}
}

// IsActive reports whether the task is started and not completed.
func (t *Task) IsActive() bool {
	return t.ActualStart != nil && !t.Completed
}

// IsStuck reports whether an incomplete task's window has lapsed: the end
// passed without completion, or the start passed without the task starting.
func (t *Task) IsStuck(now time.Time) bool {
	if t.Completed {
		return false
	}
	if t.ScheduledEnd != nil && t.ScheduledEnd.Before(now) {
		return true
	}
	return t.ScheduledStart != nil && t.ScheduledStart.Before(now) && t.ActualStart == nil
}

// Window is a scheduled time slot.
type Window struct {
	Start     time.Time
	End       time.Time
	Source    Source
	Reasoning string
}

// Validate checks that the window is well-formed.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return validationf("window", "start and end are required")
	}
	if !w.Start.Before(w.End) {
		return validationf("window", "start %s is not before end %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// NewTask is the input to Store.Create.
type NewTask struct {
	Title       string     `validate:"required,max=200"`
	Description string     `validate:"max=2000"`
	Context     string     `validate:"max=2000"`
	DueDate     *time.Time `validate:"-"`
	Window      Window     `validate:"-"`
}

var validate = validator.New()

// Normalize trims whitespace and validates the input.
func (n *NewTask) Normalize() error {
	n.Title = strings.TrimSpace(n.Title)
	n.Description = strings.TrimSpace(n.Description)
	n.Context = strings.TrimSpace(n.Context)

	if err := validate.Struct(n); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return validationf("create", "%v", err)
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return validationf("create", "%s is required", field)
	case "max":
		return validationf("create", "%s exceeds %s characters", field, fe.Param())
	default:
		return validationf("create", "%s failed %s", field, fe.Tag())
	}
}

// ValidatePriority checks p is within [MinPriority, MaxPriority].
func ValidatePriority(p float64) error {
	if p != p || p < MinPriority || p > MaxPriority {
		return validationf("priority", "%v outside [%g, %g]", p, MinPriority, MaxPriority)
	}
	return nil
}

// Transition names a state change recorded in the audit trail.
type Transition string

const (
	TransitionCreate     Transition = "create"
	TransitionSchedule   Transition = "schedule"
	TransitionStart      Transition = "start"
	TransitionStop       Transition = "stop"
	TransitionComplete   Transition = "complete"
	TransitionDelete     Transition = "delete"
	TransitionPrioritize Transition = "prioritize"
)

// Event is one applied transition.
type Event struct {
	TaskID     int64
	Transition Transition
	Detail     string
	At         time.Time
}

// Recorder receives transition events. Implementations must not block
// the caller on failure.
type Recorder interface {
	RecordTransition(ev Event)
}

func formatWindow(w Window) string {
	return fmt.Sprintf("%s -> %s (%s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), w.Source)
}
