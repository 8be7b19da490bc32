package commands

import (
	"github.com/spf13/cobra"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduling tick in the foreground",
	Long: `Run exactly one background tick and print what it did: schedule new
tasks, reprioritize if anything was scheduled, reschedule lapsed tasks.

Safe to run while the daemon is up; both commit through the same store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.planner(cmd.Context())
		if err != nil {
			return err
		}
		report, err := p.Tick(cmd.Context())
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tickCmd)
}
