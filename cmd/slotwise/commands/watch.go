package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of the active task, upcoming windows and oracle calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		calls, _ := cmd.Flags().GetInt("calls")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		return ui.New(a.snapshotSource(calls)).Run()
	},
}

func init() {
	watchCmd.Flags().Int("calls", 20, "Number of oracle calls to show")
	rootCmd.AddCommand(watchCmd)
}

func (a *app) snapshotSource(calls int) ui.SourceFunc {
	return func(ctx context.Context) (ui.Snapshot, error) {
		active, err := a.svc.Active(ctx)
		if err != nil {
			return ui.Snapshot{}, err
		}
		upcoming, err := a.svc.Upcoming(ctx)
		if err != nil {
			return ui.Snapshot{}, err
		}
		pending, err := a.store.ListNeedingScheduling(ctx)
		if err != nil {
			return ui.Snapshot{}, err
		}
		recent, err := a.calls.RecentCalls(ctx, calls)
		if err != nil {
			return ui.Snapshot{}, err
		}
		return ui.Snapshot{
			Active:   active,
			Upcoming: upcoming,
			Pending:  len(pending),
			Calls:    recent,
			TakenAt:  time.Now(),
		}, nil
	}
}
