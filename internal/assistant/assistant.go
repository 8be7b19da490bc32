// Package assistant turns natural-language requests into task operations.
// The model picks one action from a closed set; anything it invents is
// treated as unknown and nothing runs.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/marcus/slotwise/internal/audit"
	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/tasks"
)

// OpChat names assistant calls in the oracle call log.
const OpChat = "chat"

const instructions = `You help one person manage their task list.
Read the user's message, their current tasks and their global context, then pick exactly one action:
create_task, start_task, stop_task, complete_task, delete_task, list_tasks or chat.
Use task ids from the task list. Only one task can be active at a time.

Respond with ONLY a JSON object, no markdown:
{"action": "<action>", "task_id": <id or null>, "title": "<for create_task>", "description": "", "context": "", "response": "<reply to the user>"}`

// TaskService is the subset of the service layer the assistant drives.
type TaskService interface {
	Create(ctx context.Context, in tasks.NewTask) (*tasks.Task, error)
	List(ctx context.Context) ([]*tasks.Task, error)
	Start(ctx context.Context, id int64) (*tasks.Task, error)
	Stop(ctx context.Context, id int64) (*tasks.Task, error)
	Complete(ctx context.Context, id int64) (*tasks.Task, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// ContextSource supplies the global context text.
type ContextSource interface {
	Text(ctx context.Context) (string, error)
}

// Reply is the decoded model answer.
type Reply struct {
	Action      Action
	TaskID      int64
	Title       string
	Description string
	Context     string
	Response    string
}

type rawReply struct {
	Action      string `json:"action"`
	TaskID      *int64 `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Context     string `json:"context"`
	Response    string `json:"response"`
}

// ParseReply decodes a model answer. Unknown actions become ActionUnknown.
func ParseReply(raw string) (Reply, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var r rawReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &r); err != nil {
		return Reply{}, fmt.Errorf("decode assistant reply: %w", err)
	}
	reply := Reply{
		Action:      ParseAction(r.Action),
		Title:       strings.TrimSpace(r.Title),
		Description: strings.TrimSpace(r.Description),
		Context:     strings.TrimSpace(r.Context),
		Response:    strings.TrimSpace(r.Response),
	}
	if r.TaskID != nil {
		reply.TaskID = *r.TaskID
	}
	return reply, nil
}

// Outcome is the result of executing a reply.
type Outcome struct {
	OK      bool
	TaskID  int64
	Message string
}

// Assistant processes chat messages.
type Assistant struct {
	model   model.BaseChatModel
	svc     TaskService
	global  ContextSource
	history *History
	sink    audit.Sink
	timeout time.Duration
	log     *logging.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithSink records each model call.
func WithSink(s audit.Sink) Option {
	return func(a *Assistant) { a.sink = s }
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New creates an assistant. history may be nil to skip persistence.
func New(m model.BaseChatModel, svc TaskService, global ContextSource, history *History, opts ...Option) *Assistant {
	a := &Assistant{
		model:   m,
		svc:     svc,
		global:  global,
		history: history,
		sink:    audit.Nop{},
		timeout: 30 * time.Second,
		log:     logging.Component("assistant"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type taskView struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Context        string     `json:"context,omitempty"`
	Priority       float64    `json:"priority"`
	State          string     `json:"state"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

// Process sends message to the model, executes the chosen action and
// stores the exchange.
func (a *Assistant) Process(ctx context.Context, message string) (*Message, Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, Reply{}, fmt.Errorf("empty message")
	}

	input, err := a.buildInput(ctx, message)
	if err != nil {
		return nil, Reply{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	start := time.Now()
	resp, err := a.model.Generate(callCtx, []*schema.Message{
		schema.SystemMessage(instructions),
		schema.UserMessage(input),
	})
	call := audit.OracleCall{Op: OpChat, Inputs: input, Duration: time.Since(start), Attempt: 1, CreatedAt: start}

	var reply Reply
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err == nil {
		call.Outputs = resp.Content
		reply, err = ParseReply(resp.Content)
	}
	if err != nil {
		call.Error = err.Error()
		a.sink.RecordOracleCall(call)
		return nil, Reply{}, fmt.Errorf("assistant: %w", err)
	}
	a.sink.RecordOracleCall(call)

	response := reply.Response
	if reply.Action.Mutates() {
		out := a.Execute(ctx, reply)
		a.log.InfoCtx("assistant action", map[string]any{
			"action":  string(reply.Action),
			"task_id": out.TaskID,
			"ok":      out.OK,
		})
		if !out.OK {
			response += "\n\nNote: " + out.Message
		}
	} else if reply.Action == ActionUnknown {
		a.log.Warn("assistant returned an unrecognized action, nothing executed")
	}

	msg := Message{UserMessage: message, AssistantResponse: response, Action: reply.Action, CreatedAt: start}
	if a.history == nil {
		return &msg, reply, nil
	}
	saved, err := a.history.Save(ctx, msg)
	if err != nil {
		return &msg, reply, err
	}
	return saved, reply, nil
}

func (a *Assistant) buildInput(ctx context.Context, message string) (string, error) {
	list, err := a.svc.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	views := make([]taskView, 0, len(list))
	for _, t := range list {
		views = append(views, taskView{
			ID:             t.ID,
			Title:          t.Title,
			Description:    t.Description,
			Context:        t.Context,
			Priority:       t.Priority,
			State:          string(t.State()),
			ScheduledStart: t.ScheduledStart,
			ScheduledEnd:   t.ScheduledEnd,
			DueDate:        t.DueDate,
		})
	}

	globalText := "No global context set"
	if a.global != nil {
		if text, err := a.global.Text(ctx); err == nil && text != "" {
			globalText = text
		}
	}

	data, err := json.Marshal(map[string]any{
		"user_message":   message,
		"task_list":      views,
		"global_context": globalText,
	})
	if err != nil {
		return "", fmt.Errorf("encode assistant input: %w", err)
	}
	return string(data), nil
}

// Execute runs a mutating reply against the service.
func (a *Assistant) Execute(ctx context.Context, r Reply) Outcome {
	if r.Action.NeedsTask() && r.TaskID <= 0 {
		return Outcome{Message: fmt.Sprintf("%s needs a task id", r.Action)}
	}

	switch r.Action {
	case ActionCreateTask:
		title := r.Title
		if title == "" {
			title = "Untitled Task"
		}
		t, err := a.svc.Create(ctx, tasks.NewTask{Title: title, Description: r.Description, Context: r.Context})
		if err != nil {
			return Outcome{Message: err.Error()}
		}
		return Outcome{OK: true, TaskID: t.ID, Message: fmt.Sprintf("Task '%s' created", t.Title)}

	case ActionStartTask:
		return a.transition(ctx, r.TaskID, "started", a.svc.Start)
	case ActionStopTask:
		return a.transition(ctx, r.TaskID, "stopped", a.svc.Stop)
	case ActionCompleteTask:
		return a.transition(ctx, r.TaskID, "completed", a.svc.Complete)

	case ActionDeleteTask:
		ok, err := a.svc.Delete(ctx, r.TaskID)
		switch {
		case err != nil:
			return Outcome{TaskID: r.TaskID, Message: err.Error()}
		case !ok:
			return Outcome{TaskID: r.TaskID, Message: "Task not found"}
		}
		return Outcome{OK: true, TaskID: r.TaskID, Message: fmt.Sprintf("Task %d deleted", r.TaskID)}

	default:
		return Outcome{OK: true, Message: "nothing to execute"}
	}
}

func (a *Assistant) transition(ctx context.Context, id int64, verb string, fn func(context.Context, int64) (*tasks.Task, error)) Outcome {
	t, err := fn(ctx, id)
	if err != nil {
		return Outcome{TaskID: id, Message: err.Error()}
	}
	return Outcome{OK: true, TaskID: id, Message: fmt.Sprintf("Task '%s' %s", t.Title, verb)}
}
