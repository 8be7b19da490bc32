// Package commands implements the slotwise CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "slotwise",
	Short: "AI-assisted task scheduler",
	Long: `Slotwise keeps a personal task list and asks a language model to place
each task into a time window and to rank open tasks by priority.

Task commands respond immediately. The daemon assigns windows in the
background and falls back to a fixed slot when the model is unavailable.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Log to stderr as well as the log file")
}
