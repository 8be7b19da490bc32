package assistant

import "strings"

// Action is what the model asked to do with the user's message.
type Action string

const (
	ActionCreateTask   Action = "create_task"
	ActionStartTask    Action = "start_task"
	ActionStopTask     Action = "stop_task"
	ActionCompleteTask Action = "complete_task"
	ActionDeleteTask   Action = "delete_task"
	ActionListTasks    Action = "list_tasks"
	ActionChat         Action = "chat"
	ActionUnknown      Action = "unknown"
)

var knownActions = map[Action]bool{
	ActionCreateTask:   true,
	ActionStartTask:    true,
	ActionStopTask:     true,
	ActionCompleteTask: true,
	ActionDeleteTask:   true,
	ActionListTasks:    true,
	ActionChat:         true,
}

// ParseAction maps a model-supplied string onto the closed set. Anything
// unrecognized is ActionUnknown.
func ParseAction(s string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if knownActions[a] {
		return a
	}
	return ActionUnknown
}

// NeedsTask reports whether the action operates on an existing task id.
func (a Action) NeedsTask() bool {
	switch a {
	case ActionStartTask, ActionStopTask, ActionCompleteTask, ActionDeleteTask:
		return true
	}
	return false
}

// Mutates reports whether the action changes stored tasks.
func (a Action) Mutates() bool {
	return a == ActionCreateTask || a.NeedsTask()
}
