package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Show or set the global scheduling context",
	Long: `The global context describes standing preferences and constraints
("no meetings before 10", "gym on Tuesdays"). It is sent with every
scheduling and prioritization request.`,
}

var contextShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the global context",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		gc, err := a.global.Get(cmd.Context())
		if err != nil {
			return err
		}
		if gc.Context == "" {
			fmt.Println(styles.Muted.Render("No global context set."))
			return nil
		}
		fmt.Println(gc.Context)
		if !gc.UpdatedAt.IsZero() {
			fmt.Println(styles.Muted.Render("updated " + gc.UpdatedAt.Local().Format("2006-01-02 15:04")))
		}
		return nil
	},
}

var contextSetCmd = &cobra.Command{
	Use:   "set [text]",
	Short: "Replace the global context (reads stdin when text is -)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if text == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			text = string(data)
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		gc, err := a.global.Update(cmd.Context(), text)
		if err != nil {
			return err
		}
		fmt.Printf("Global context updated (%d characters)\n", len([]rune(gc.Context)))
		return nil
	},
}

var contextClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the global context",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.global.Update(cmd.Context(), ""); err != nil {
			return err
		}
		fmt.Println("Global context cleared")
		return nil
	},
}

func init() {
	contextCmd.AddCommand(contextShowCmd, contextSetCmd, contextClearCmd)
	rootCmd.AddCommand(contextCmd)
}
