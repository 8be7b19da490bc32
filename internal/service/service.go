// Package service holds the user-facing task operations. They validate
// input and go straight to the task store; none of them waits on the oracle.
package service

import (
	"context"
	"time"

	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/policy"
	"github.com/marcus/slotwise/internal/tasks"
)

// Mirror is told about user transitions that affect external copies of the
// schedule. Implementations must not block for long.
type Mirror interface {
	Completed(ctx context.Context, t *tasks.Task)
	Deleted(ctx context.Context, id int64)
}

// Service wires the store and the fallback policy.
type Service struct {
	store   *tasks.Store
	policy  *policy.Policy
	mirrors []Mirror
	log     *logging.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMirror adds a mirror.
func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirrors = append(s.mirrors, m) }
}

// WithClock overrides the time source used for fallback windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service.
func New(store *tasks.Store, pol *policy.Policy, opts ...Option) *Service {
	s := &Service{store: store, policy: pol, log: logging.Component("service"), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input and stores the task with the fallback window.
// The background loop replaces the window later.
func (s *Service) Create(ctx context.Context, in tasks.NewTask) (*tasks.Task, error) {
	in.Window = s.policy.FallbackWindow(s.now())
	return s.store.Create(ctx, in)
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, id int64) (*tasks.Task, error) {
	if err := checkID("get", id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// List returns every task, highest priority first.
func (s *Service) List(ctx context.Context) ([]*tasks.Task, error) {
	return s.store.ListAll(ctx)
}

// ListIncomplete returns open tasks.
func (s *Service) ListIncomplete(ctx context.Context) ([]*tasks.Task, error) {
	return s.store.ListIncomplete(ctx)
}

// Active returns the active task or nil.
func (s *Service) Active(ctx context.Context) (*tasks.Task, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil || len(active) == 0 {
		return nil, err
	}
	return active[0], nil
}

// Upcoming returns open tasks with a window, ordered by start.
func (s *Service) Upcoming(ctx context.Context) ([]*tasks.Task, error) {
	return s.store.ListScheduled(ctx)
}

// Start makes the task active.
func (s *Service) Start(ctx context.Context, id int64) (*tasks.Task, error) {
	if err := checkID("start", id); err != nil {
		return nil, err
	}
	return s.store.Start(ctx, id)
}

// Stop pauses the active task.
func (s *Service) Stop(ctx context.Context, id int64) (*tasks.Task, error) {
	if err := checkID("stop", id); err != nil {
		return nil, err
	}
	return s.store.Stop(ctx, id)
}

// Complete finishes the active task.
func (s *Service) Complete(ctx context.Context, id int64) (*tasks.Task, error) {
	if err := checkID("complete", id); err != nil {
		return nil, err
	}
	t, err := s.store.Complete(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, m := range s.mirrors {
		m.Completed(ctx, t)
	}
	return t, nil
}

// Delete removes a task. The bool reports whether a row was removed;
// false with a nil error means the task did not exist.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	if err := checkID("delete", id); err != nil {
		return false, err
	}
	ok, err := s.store.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	for _, m := range s.mirrors {
		m.Deleted(ctx, id)
	}
	return true, nil
}

func checkID(op string, id int64) error {
	if id <= 0 {
		return &tasks.Error{Kind: tasks.ErrValidation, Op: op, TaskID: id, Msg: "task id must be positive"}
	}
	return nil
}
