package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/audit"
	"github.com/marcus/slotwise/internal/tasks"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	Long: `Create, list and move tasks through their lifecycle.

New tasks get a provisional fallback window at once; the daemon replaces
it with a model-assigned window on its next tick.`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks, highest priority first",
	RunE:    runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task and its transition history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

func init() {
	taskAddCmd.Flags().StringP("description", "d", "", "Task description")
	taskAddCmd.Flags().StringP("context", "c", "", "Task-specific context for the scheduler")
	taskAddCmd.Flags().String("due", "", "Due date (YYYY-MM-DD, YYYY-MM-DD HH:MM, RFC3339, today, tomorrow)")

	taskListCmd.Flags().BoolP("all", "a", false, "Include completed tasks")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskDeleteCmd)
	taskCmd.AddCommand(transitionCmd("start", "Make a task the active task", "started", func(a *app) transitionFunc { return a.svc.Start }))
	taskCmd.AddCommand(transitionCmd("stop", "Pause the active task", "stopped", func(a *app) transitionFunc { return a.svc.Stop }))
	taskCmd.AddCommand(transitionCmd("complete", "Complete the active task", "completed", func(a *app) transitionFunc { return a.svc.Complete }))
	rootCmd.AddCommand(taskCmd)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	in := tasks.NewTask{Title: strings.Join(args, " ")}
	in.Description, _ = cmd.Flags().GetString("description")
	in.Context, _ = cmd.Flags().GetString("context")
	if due, _ := cmd.Flags().GetString("due"); due != "" {
		t, err := parseTimeInput(due, time.Now(), time.Local)
		if err != nil {
			return err
		}
		in.DueDate = &t
	}

	t, err := a.svc.Create(cmd.Context(), in)
	if err != nil {
		return err
	}
	fmt.Printf("Created task %d: %s\n", t.ID, t.Title)
	fmt.Printf("Provisional window: %s\n", formatWindow(t))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	all, _ := cmd.Flags().GetBool("all")
	var list []*tasks.Task
	if all {
		list, err = a.svc.List(cmd.Context())
	} else {
		list, err = a.svc.ListIncomplete(cmd.Context())
	}
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	printTaskTable(list)
	return nil
}

func printTaskTable(list []*tasks.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tSTATE\tWINDOW\tTITLE")
	for _, t := range list {
		fmt.Fprintf(w, "%d\t%.1f\t%s\t%s\t%s\n", t.ID, t.Priority, stateText(t), formatWindow(t), t.Title)
	}
	_ = w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.svc.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	history, err := a.calls.TaskHistory(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Print(renderTask(t, history))
	return nil
}

func renderTask(t *tasks.Task, history []audit.TransitionRecord) string {
	var b strings.Builder
	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(styles.Label.Render(fmt.Sprintf("%-12s", label)))
		b.WriteString(value)
		b.WriteString("\n")
	}

	b.WriteString(styles.Title.Render(fmt.Sprintf("Task %d: %s", t.ID, t.Title)))
	b.WriteString("\n")
	row("State", stateLabel(t))
	row("Priority", fmt.Sprintf("%.1f", t.Priority))
	row("Window", formatWindow(t))
	row("Source", string(t.ScheduleSource))
	row("Reasoning", t.ScheduleReasoning)
	row("Description", t.Description)
	row("Context", t.Context)
	if t.DueDate != nil {
		row("Due", t.DueDate.Local().Format("2006-01-02 15:04"))
	}
	if t.ActualStart != nil {
		row("Started", t.ActualStart.Local().Format("2006-01-02 15:04"))
	}
	if t.ActualEnd != nil {
		row("Finished", t.ActualEnd.Local().Format("2006-01-02 15:04"))
	}
	row("Created", t.CreatedAt.Local().Format("2006-01-02 15:04"))

	if len(history) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Section.Render("History"))
		b.WriteString("\n")
		for _, h := range history {
			line := fmt.Sprintf("  %s  %-10s %s", h.CreatedAt.Local().Format("01-02 15:04:05"), h.Transition, h.Detail)
			b.WriteString(strings.TrimRight(line, " "))
			b.WriteString("\n")
		}
	}
	return b.String()
}

type transitionFunc func(ctx context.Context, id int64) (*tasks.Task, error)

// transitionCmd builds start, stop and complete, which differ only in the
// service call they make.
func transitionCmd(name, short, verb string, pick func(*app) transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := pick(a)(cmd.Context(), id)
			if err != nil {
				return friendlyError(err)
			}
			fmt.Printf("Task %d %s: %s\n", t.ID, verb, t.Title)
			return nil
		},
	}
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ok, err := a.svc.Delete(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	fmt.Printf("Deleted task %d\n", id)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

// stateText is the plain state, used where ANSI codes would break alignment.
func stateText(t *tasks.Task) string {
	if t.IsStuck(time.Now()) {
		return string(t.State()) + " (lapsed)"
	}
	return string(t.State())
}

func stateLabel(t *tasks.Task) string {
	s := stateText(t)
	switch t.State() {
	case tasks.StateActive:
		return styles.Running.Render(s)
	case tasks.StateCompleted:
		return styles.OK.Render(s)
	case tasks.StateNew:
		return styles.Warn.Render(s)
	}
	if t.IsStuck(time.Now()) {
		return styles.Fail.Render(s)
	}
	return s
}

func formatWindow(t *tasks.Task) string {
	if t.ScheduledStart == nil || t.ScheduledEnd == nil {
		return "-"
	}
	start := t.ScheduledStart.Local()
	end := t.ScheduledEnd.Local()
	if start.YearDay() == end.YearDay() && start.Year() == end.Year() {
		return start.Format("2006-01-02 15:04") + "-" + end.Format("15:04")
	}
	return start.Format("2006-01-02 15:04") + " - " + end.Format("2006-01-02 15:04")
}

// friendlyError rewrites store errors into one-line messages.
func friendlyError(err error) error {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return fmt.Errorf("not found: %w", err)
	case errors.Is(err, tasks.ErrConflict):
		return fmt.Errorf("not allowed: %w", err)
	}
	return err
}
