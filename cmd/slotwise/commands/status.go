package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/tasks"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active task and what comes next",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("next")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		active, err := a.svc.Active(ctx)
		if err != nil {
			return err
		}
		upcoming, err := a.svc.Upcoming(ctx)
		if err != nil {
			return err
		}
		open, err := a.svc.ListIncomplete(ctx)
		if err != nil {
			return err
		}
		fmt.Print(renderStatus(active, upcoming, open, n, time.Now()))

		if running, pid := isDaemonRunning(); running {
			fmt.Println(styles.Muted.Render(fmt.Sprintf("daemon running (pid %d)", pid)))
		} else {
			fmt.Println(styles.Warn.Render("daemon not running; new tasks keep their fallback window"))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntP("next", "n", 5, "Number of upcoming windows to show")
	rootCmd.AddCommand(statusCmd)
}

func renderStatus(active *tasks.Task, upcoming, open []*tasks.Task, n int, now time.Time) string {
	var out string
	if active != nil {
		since := ""
		if active.ActualStart != nil {
			since = fmt.Sprintf(" (started %s ago)", now.Sub(*active.ActualStart).Round(time.Minute))
		}
		out += fmt.Sprintf("%s %d %s%s\n", styles.Running.Render("Active:"), active.ID, active.Title, since)
	} else {
		out += styles.Muted.Render("No active task") + "\n"
	}

	pending, lapsed := 0, 0
	for _, t := range open {
		switch {
		case t.NeedsScheduling:
			pending++
		case t.IsStuck(now) && !t.IsActive():
			lapsed++
		}
	}
	out += fmt.Sprintf("Open: %d  awaiting window: %d  lapsed: %d\n\n", len(open), pending, lapsed)

	if len(upcoming) == 0 {
		return out + styles.Muted.Render("Nothing scheduled") + "\n"
	}
	out += styles.Section.Render("Next up") + "\n"
	shown := 0
	for _, t := range upcoming {
		if shown == n {
			break
		}
		if t.IsActive() {
			continue
		}
		out += fmt.Sprintf("  %-28s %3d  %s\n", formatWindow(t), t.ID, t.Title)
		shown++
	}
	return out
}
