package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change stored model settings",
	Long: `Stored settings override the oracle model from the config file and set
the response token limit. They live in the database so a running daemon
picks them up on restart without editing config.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored settings and the effective model",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.global.Settings(cmd.Context())
		if err != nil {
			return err
		}
		override := st.LLMModel
		if override == "" {
			override = styles.Muted.Render("(none)")
		}
		effective := a.cfg.Oracle.Model
		if st.LLMModel != "" {
			effective = st.LLMModel
		}
		fmt.Printf("Provider:        %s\n", a.cfg.Oracle.Provider)
		fmt.Printf("Model override:  %s\n", override)
		fmt.Printf("Effective model: %s\n", effective)
		fmt.Printf("Max tokens:      %d\n", st.MaxTokens)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update stored settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.global.Settings(cmd.Context())
		if err != nil {
			return err
		}
		model, maxTokens := st.LLMModel, st.MaxTokens
		if cmd.Flags().Changed("model") {
			model, _ = cmd.Flags().GetString("model")
		}
		if cmd.Flags().Changed("max-tokens") {
			maxTokens, _ = cmd.Flags().GetInt("max-tokens")
		}

		st, err = a.global.UpdateSettings(cmd.Context(), model, maxTokens)
		if err != nil {
			return err
		}
		fmt.Printf("Settings updated: model=%q max_tokens=%d\n", st.LLMModel, st.MaxTokens)
		return nil
	},
}

func init() {
	settingsSetCmd.Flags().String("model", "", "Model name override (empty uses the configured model)")
	settingsSetCmd.Flags().Int("max-tokens", 0, "Maximum response tokens")
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
