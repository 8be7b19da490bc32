package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/slotwise/internal/audit"
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "List recent oracle calls",
	Long: `List the most recent calls to the scheduling model, newest first.

Use --verbose-io to include the raw inputs and outputs of each call.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("last")
		showIO, _ := cmd.Flags().GetBool("verbose-io")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		calls, err := a.calls.RecentCalls(cmd.Context(), n)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			fmt.Println("No oracle calls recorded.")
			return nil
		}
		if showIO {
			for _, c := range calls {
				fmt.Print(renderCallDetail(c))
			}
			return nil
		}
		printCallTable(calls)
		return nil
	},
}

func init() {
	callsCmd.Flags().IntP("last", "n", 50, "Number of calls to show")
	callsCmd.Flags().Bool("verbose-io", false, "Include raw inputs and outputs")
	rootCmd.AddCommand(callsCmd)
}

func printCallTable(calls []audit.OracleCall) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOP\tTASK\tATTEMPT\tDURATION\tRESULT")
	for _, c := range calls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			c.CreatedAt.Local().Format("01-02 15:04:05"),
			c.Op, callTask(c), c.Attempt,
			c.Duration.Round(time.Millisecond), callResult(c))
	}
	_ = w.Flush()
}

func renderCallDetail(c audit.OracleCall) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s attempt %d (%s) %s\n",
		styles.Title.Render(fmt.Sprintf("#%d", c.ID)),
		c.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		c.Op, c.Attempt, c.Duration.Round(time.Millisecond), callTask(c))
	if c.Error != "" {
		b.WriteString(styles.Fail.Render("error: " + c.Error))
		b.WriteString("\n")
	}
	b.WriteString(styles.Label.Render("input:  "))
	b.WriteString(c.Inputs)
	b.WriteString("\n")
	b.WriteString(styles.Label.Render("output: "))
	b.WriteString(c.Outputs)
	b.WriteString("\n\n")
	return b.String()
}

func callTask(c audit.OracleCall) string {
	if c.TaskID == 0 {
		return "batch"
	}
	return fmt.Sprintf("task %d", c.TaskID)
}

func callResult(c audit.OracleCall) string {
	if c.Error == "" {
		return "ok"
	}
	msg := c.Error
	if len(msg) > 60 {
		msg = msg[:57] + "..."
	}
	return "error: " + msg
}
