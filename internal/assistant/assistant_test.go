package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/marcus/slotwise/internal/db"
	"github.com/marcus/slotwise/internal/globalctx"
	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/policy"
	"github.com/marcus/slotwise/internal/service"
	"github.com/marcus/slotwise/internal/tasks"
)

type cannedModel struct {
	reply string
	err   error
	empty bool
	input string
}

func (c *cannedModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	c.input = in[len(in)-1].Content
	if c.err != nil || c.empty {
		return nil, c.err
	}
	return schema.AssistantMessage(c.reply, nil), nil
}

func (c *cannedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

type harness struct {
	svc     *service.Service
	global  *globalctx.Store
	history *History
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "slotwise.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	store := tasks.NewStore(database, tasks.WithLogger(logging.Nop()))
	return &harness{
		svc:     service.New(store, policy.New(policy.DefaultConfig())),
		global:  globalctx.NewStore(database),
		history: NewHistory(database),
	}
}

func (h *harness) assistant(m *cannedModel) *Assistant {
	return New(m, h.svc, h.global, h.history)
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{"create_task", ActionCreateTask},
		{" START_TASK ", ActionStartTask},
		{"chat", ActionChat},
		{"list_tasks", ActionListTasks},
		{"update_task", ActionUnknown},
		{"rm -rf", ActionUnknown},
		{"", ActionUnknown},
	}
	for _, tt := range tests {
		if got := ParseAction(tt.in); got != tt.want {
			t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProcessCreatesTask(t *testing.T) {
	h := newHarness(t)
	m := &cannedModel{reply: "```json\n{\"action\": \"create_task\", \"title\": \"Buy milk\", \"context\": \"before 6pm\", \"response\": \"Added it.\"}\n```"}

	msg, reply, err := h.assistant(m).Process(context.Background(), "remind me to buy milk")
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if reply.Action != ActionCreateTask || msg.AssistantResponse != "Added it." {
		t.Errorf("reply = %+v, message = %+v", reply, msg)
	}

	all, _ := h.svc.List(context.Background())
	if len(all) != 1 || all[0].Title != "Buy milk" || all[0].Context != "before 6pm" || !all[0].NeedsScheduling {
		t.Errorf("tasks = %+v", all)
	}
	if !strings.Contains(m.input, `"remind me to buy milk"`) || !strings.Contains(m.input, "No global context set") {
		t.Errorf("model input = %s", m.input)
	}

	hist, err := h.history.Recent(context.Background(), 10)
	if err != nil || len(hist) != 1 || hist[0].Action != ActionCreateTask || hist[0].ID != msg.ID {
		t.Errorf("history = %+v, %v", hist, err)
	}
}

func TestProcessReportsFailedAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, _ := h.svc.Create(ctx, tasks.NewTask{Title: "a"})
	b, _ := h.svc.Create(ctx, tasks.NewTask{Title: "b"})
	if _, err := h.svc.Start(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	m := &cannedModel{reply: `{"action": "start_task", "task_id": ` + strconv.FormatInt(b.ID, 10) + `, "response": "Starting b."}`}
	msg, _, err := h.assistant(m).Process(ctx, "start b")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(msg.AssistantResponse, "Starting b.\n\nNote: ") || !strings.Contains(msg.AssistantResponse, "conflict") {
		t.Errorf("response = %q", msg.AssistantResponse)
	}
	if got, _ := h.svc.Get(ctx, b.ID); got.IsActive() {
		t.Error("b should not be active")
	}
}

func TestProcessUnknownActionRunsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task, _ := h.svc.Create(ctx, tasks.NewTask{Title: "keep me"})

	m := &cannedModel{reply: `{"action": "drop_table", "task_id": ` + strconv.FormatInt(task.ID, 10) + `, "response": "Done!"}`}
	msg, reply, err := h.assistant(m).Process(ctx, "do something odd")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Action != ActionUnknown || msg.Action != ActionUnknown {
		t.Errorf("action = %q", reply.Action)
	}
	if _, err := h.svc.Get(ctx, task.ID); err != nil {
		t.Errorf("task should survive an unknown action: %v", err)
	}
}

func TestProcessModelFailure(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		m    *cannedModel
	}{
		{"transport", &cannedModel{err: errors.New("503")}},
		{"garbage", &cannedModel{reply: "sure thing!"}},
		{"nil message", &cannedModel{empty: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := h.assistant(tt.m).Process(context.Background(), "hi"); err == nil {
				t.Error("expected error")
			}
		})
	}
	if hist, _ := h.history.Recent(context.Background(), 10); len(hist) != 0 {
		t.Errorf("failed exchanges should not be stored, got %d", len(hist))
	}
}

func TestExecute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.assistant(&cannedModel{})
	task, _ := h.svc.Create(ctx, tasks.NewTask{Title: "write"})

	steps := []struct {
		reply Reply
		ok    bool
	}{
		{Reply{Action: ActionStartTask}, false},
		{Reply{Action: ActionCompleteTask, TaskID: task.ID}, false},
		{Reply{Action: ActionStartTask, TaskID: task.ID}, true},
		{Reply{Action: ActionStopTask, TaskID: task.ID}, true},
		{Reply{Action: ActionStartTask, TaskID: task.ID}, true},
		{Reply{Action: ActionCompleteTask, TaskID: task.ID}, true},
		{Reply{Action: ActionDeleteTask, TaskID: task.ID}, true},
		{Reply{Action: ActionDeleteTask, TaskID: task.ID}, false},
		{Reply{Action: ActionCreateTask}, true},
	}
	for i, s := range steps {
		if out := a.Execute(ctx, s.reply); out.OK != s.ok {
			t.Errorf("step %d %s: OK = %v (%s), want %v", i, s.reply.Action, out.OK, out.Message, s.ok)
		}
	}

	all, _ := h.svc.List(ctx)
	if len(all) != 1 || all[0].Title != "Untitled Task" {
		t.Errorf("tasks = %+v", all)
	}
}

func TestHistoryRecentAndClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, text := range []string{"one", "two", "three"} {
		if _, err := h.history.Save(ctx, Message{UserMessage: text, AssistantResponse: "ok", CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := h.history.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].UserMessage != "two" || recent[1].UserMessage != "three" {
		t.Errorf("Recent(2) = %+v", recent)
	}
	if recent[0].Action != ActionUnknown {
		t.Errorf("default action = %q", recent[0].Action)
	}

	n, err := h.history.Clear(ctx)
	if err != nil || n != 3 {
		t.Errorf("Clear() = %d, %v", n, err)
	}
}
