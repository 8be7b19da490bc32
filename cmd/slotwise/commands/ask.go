package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/assistant"
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Manage tasks in plain language",
	Long: `Send a message to the assistant. It can create, start, stop, complete,
delete or list tasks, or just answer.

  slotwise ask "remind me to renew my passport before March"
  slotwise ask "I'm starting on the report now"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		m, oc, err := a.chatModel(ctx)
		if err != nil {
			return err
		}
		asst := assistant.New(m, a.svc, a.global, assistant.NewHistory(a.db),
			assistant.WithSink(a.sink),
			assistant.WithTimeout(oc.Timeout),
		)

		msg, reply, err := asst.Process(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(msg.AssistantResponse)

		if reply.Action == assistant.ActionListTasks {
			list, err := a.svc.ListIncomplete(ctx)
			if err != nil {
				return err
			}
			if len(list) > 0 {
				fmt.Println()
				printTaskTable(list)
			}
		}
		return nil
	},
}

var askHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent assistant exchanges",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("last")
		clearAll, _ := cmd.Flags().GetBool("clear")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		history := assistant.NewHistory(a.db)

		if clearAll {
			removed, err := history.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d messages\n", removed)
			return nil
		}

		msgs, err := history.Recent(cmd.Context(), n)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("%s %s\n", styles.Muted.Render(m.CreatedAt.Local().Format("01-02 15:04")), styles.Section.Render("> "+m.UserMessage))
			fmt.Printf("  %s %s\n\n", styles.Label.Render("["+string(m.Action)+"]"), m.AssistantResponse)
		}
		return nil
	},
}

func init() {
	askHistoryCmd.Flags().IntP("last", "n", 20, "Number of exchanges to show")
	askHistoryCmd.Flags().Bool("clear", false, "Delete the stored history")
	askCmd.AddCommand(askHistoryCmd)
	rootCmd.AddCommand(askCmd)
}
