package tasks

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence error")
)

// Error is a store failure tagged with one of the kinds above.
type Error struct {
	Kind   error
	Op     string
	TaskID int64
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.TaskID != 0 {
		s = fmt.Sprintf("%s (task %d)", s, e.TaskID)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func validationf(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFound(op string, id int64) error {
	return &Error{Kind: ErrNotFound, Op: op, TaskID: id}
}

func conflict(op string, id int64, msg string) error {
	return &Error{Kind: ErrConflict, Op: op, TaskID: id, Msg: msg}
}

func persistence(op string, id int64, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, TaskID: id, Err: err}
}
