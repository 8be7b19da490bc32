package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/marcus/slotwise/internal/audit"
	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/tasks"
)

// DefaultTimeout bounds a single oracle call.
const DefaultTimeout = 30 * time.Second

const scheduleInstructions = `You schedule tasks for one person.
Given a new task, its context, the user's global context, the current time and the existing
schedule, pick a start and end time for the new task. Do not overlap existing windows unless
the context demands it. Never schedule in the past.

Respond with ONLY a JSON object, no markdown:
{"start_time": "<ISO 8601>", "end_time": "<ISO 8601>", "reasoning": "<one or two sentences>"}`

const priorityInstructions = `You prioritize a person's open tasks.
Given the tasks and the user's global context, give every task a priority between 0 and 10
(10 is most urgent). Consider due dates, dependencies and the stated preferences.
Score every task exactly once.

Respond with ONLY a JSON object, no markdown:
{"prioritized_tasks": [{"id": <task id>, "title": "<title>", "priority": <0-10>, "reasoning": "<short>"}]}`

// LLMOracle implements Oracle on top of an eino chat model.
type LLMOracle struct {
	model     model.BaseChatModel
	timeout   time.Duration
	maxTokens int
	sink      audit.Sink
	log       *logging.Logger
}

// Option configures an LLMOracle.
type Option func(*LLMOracle)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *LLMOracle) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxTokens caps the response length of every call.
func WithMaxTokens(n int) Option {
	return func(o *LLMOracle) { o.maxTokens = n }
}

// WithSink sets where call records are sent.
func WithSink(s audit.Sink) Option {
	return func(o *LLMOracle) { o.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *LLMOracle) { o.log = l }
}

// NewLLMOracle wraps a chat model.
func NewLLMOracle(m model.BaseChatModel, opts ...Option) *LLMOracle {
	o := &LLMOracle{
		model:   m,
		timeout: DefaultTimeout,
		sink:    audit.Nop{},
		log:     logging.Component("oracle"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type taskPayload struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type scheduleInput struct {
	NewTask          taskPayload `json:"new_task"`
	TaskContext      string      `json:"task_context,omitempty"`
	GlobalContext    string      `json:"global_context,omitempty"`
	CurrentDatetime  time.Time   `json:"current_datetime"`
	ExistingSchedule []Slot      `json:"existing_schedule"`
}

type priorityInput struct {
	Tasks           []taskPayload `json:"tasks"`
	GlobalContext   string        `json:"global_context,omitempty"`
	CurrentDatetime time.Time     `json:"current_datetime"`
}

func payloadFor(t *tasks.Task) taskPayload {
	return taskPayload{ID: t.ID, Title: t.Title, Description: t.Description, DueDate: t.DueDate}
}

// AssignSchedule asks the model for a window for req.Task.
func (o *LLMOracle) AssignSchedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error) {
	if req.Task == nil {
		return ScheduleResult{}, wrapErr(OpAssignSchedule, errors.New("nil task"))
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	existing := req.Existing
	if existing == nil {
		existing = []Slot{}
	}
	input := scheduleInput{
		NewTask:          payloadFor(req.Task),
		TaskContext:      req.Task.Context,
		GlobalContext:    req.GlobalContext,
		CurrentDatetime:  now,
		ExistingSchedule: existing,
	}

	raw, err := o.call(ctx, OpAssignSchedule, req.Task.ID, scheduleInstructions, input, func(raw string) error {
		_, err := ParseScheduleResponse(raw, now)
		return err
	})
	if err != nil {
		return ScheduleResult{}, err
	}
	return ParseScheduleResponse(raw, now)
}

// AssignPriorities asks the model to score every task in req.
func (o *LLMOracle) AssignPriorities(ctx context.Context, req PriorityRequest) (map[int64]float64, error) {
	if len(req.Tasks) == 0 {
		return map[int64]float64{}, nil
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	input := priorityInput{GlobalContext: req.GlobalContext, CurrentDatetime: now}
	for _, t := range req.Tasks {
		input.Tasks = append(input.Tasks, payloadFor(t))
	}

	raw, err := o.call(ctx, OpAssignPriorities, 0, priorityInstructions, input, func(raw string) error {
		_, err := ParsePriorityResponse(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ParsePriorityResponse(raw)
}

// call runs one model round trip and records it. check validates the raw
// answer so the call record carries the parse error too.
func (o *LLMOracle) call(ctx context.Context, op string, taskID int64, instructions string, input any, check func(string) error) (string, error) {
	inputs, err := json.Marshal(input)
	if err != nil {
		return "", wrapErr(op, fmt.Errorf("encode request: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var opts []model.Option
	if o.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(o.maxTokens))
	}

	start := time.Now()
	msg, err := o.model.Generate(callCtx, []*schema.Message{
		schema.SystemMessage(instructions),
		schema.UserMessage(string(inputs)),
	}, opts...)
	duration := time.Since(start)

	var raw string
	if err == nil {
		if msg == nil {
			err = errors.New("empty response")
		} else {
			raw = msg.Content
			err = check(raw)
		}
	} else if callCtx.Err() != nil && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", o.timeout, err)
	}

	record := audit.OracleCall{
		Op:        op,
		TaskID:    taskID,
		Inputs:    string(inputs),
		Outputs:   raw,
		Duration:  duration,
		Attempt:   attemptFrom(ctx),
		CreatedAt: start,
	}
	if err != nil {
		record.Error = err.Error()
	}
	o.sink.RecordOracleCall(record)

	ev := o.log.Zerolog().Info()
	if err != nil {
		ev = o.log.Zerolog().Warn().Err(err)
	}
	ev.Str("op", op).Int64("task_id", taskID).Int("attempt", record.Attempt).
		Dur("duration", duration).Msg("oracle call")

	if err != nil {
		return "", wrapErr(op, err)
	}
	return raw, nil
}
