// Package reprioritize recomputes priorities for every incomplete task as a
// single all-or-nothing batch.
package reprioritize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/oracle"
	"github.com/marcus/slotwise/internal/tasks"
)

// ErrIncomplete is returned when the oracle's scores do not cover exactly
// the snapshot.
var ErrIncomplete = errors.New("priority response does not match snapshot")

// TaskSource is the subset of the task store the engine reads and writes.
type TaskSource interface {
	ListIncomplete(ctx context.Context) ([]*tasks.Task, error)
	BatchApplyPriorities(ctx context.Context, priorities map[int64]float64) error
}

// ContextSource supplies the global context text.
type ContextSource interface {
	Text(ctx context.Context) (string, error)
}

// Scorer obtains scores for a snapshot, typically a retry policy around an oracle.
type Scorer func(ctx context.Context, req oracle.PriorityRequest) (map[int64]float64, error)

// Result summarizes one run.
type Result struct {
	Tasks    int
	Applied  bool
	Duration time.Duration
}

// Engine runs reprioritization batches.
type Engine struct {
	tasks  TaskSource
	global ContextSource
	score  Scorer
	log    *logging.Logger
	now    func() time.Time
}

// New creates an engine.
func New(ts TaskSource, global ContextSource, score Scorer) *Engine {
	return &Engine{
		tasks:  ts,
		global: global,
		score:  score,
		log:    logging.Component("reprioritize"),
		now:    time.Now,
	}
}

// Run snapshots incomplete tasks, scores them with one call, checks the
// scores cover the snapshot exactly and commits them in one transaction.
// Any failure leaves every priority unchanged.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := e.now()
	snapshot, err := e.tasks.ListIncomplete(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: %w", err)
	}
	res := Result{Tasks: len(snapshot)}
	if len(snapshot) == 0 {
		return res, nil
	}

	var globalText string
	if e.global != nil {
		if globalText, err = e.global.Text(ctx); err != nil {
			return res, fmt.Errorf("global context: %w", err)
		}
	}

	scores, err := e.score(ctx, oracle.PriorityRequest{Tasks: snapshot, GlobalContext: globalText, Now: start})
	if err != nil {
		e.log.Zerolog().Warn().Err(err).Int("tasks", len(snapshot)).Msg("reprioritization skipped, priorities unchanged")
		return res, fmt.Errorf("score: %w", err)
	}
	if err := checkCoverage(snapshot, scores); err != nil {
		e.log.Zerolog().Warn().Err(err).Int("tasks", len(snapshot)).Msg("reprioritization rejected, priorities unchanged")
		return res, err
	}

	if err := e.tasks.BatchApplyPriorities(ctx, scores); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	res.Applied = true
	res.Duration = e.now().Sub(start)
	e.log.InfoCtx("priorities applied", map[string]any{
		"tasks":       len(snapshot),
		"duration_ms": res.Duration.Milliseconds(),
	})
	return res, nil
}

func checkCoverage(snapshot []*tasks.Task, scores map[int64]float64) error {
	want := make(map[int64]bool, len(snapshot))
	var missing []int64
	for _, t := range snapshot {
		want[t.ID] = true
		if _, ok := scores[t.ID]; !ok {
			missing = append(missing, t.ID)
		}
	}
	var extra []int64
	for id := range scores {
		if !want[id] {
			extra = append(extra, id)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return fmt.Errorf("%w: missing %v, unknown %v", ErrIncomplete, missing, extra)
}
