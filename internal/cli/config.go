package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"toolvm/internal/config"
)

var configResetYes bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configSchemaCmd)
	configResetCmd.Flags().BoolVarP(&configResetYes, "yes", "y", false, "skip the confirmation prompt")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or reset the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		b, err := json.MarshalIndent(m.Store().Snapshot(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Replace the configuration with the bundled defaults",
	Long:  "Irreversibly replace config.json with the bundled default templates and empty tool state. Installed files are untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !configResetYes {
			confirmed := false
			err := huh.NewConfirm().
				Title("Reset configuration to defaults?").
				Description("Tool templates, installed-version records and locks are discarded. Files on disk stay.").
				Value(&confirmed).
				Run()
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Println(styleMuted.Render("reset aborted"))
				return nil
			}
		}
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.ResetConfig(); err != nil {
			return err
		}
		fmt.Printf("%s configuration reset\n", styleCurrent.Render("✓"))
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema for config.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := config.MarshalSchema(config.Schema())
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(b))
		return nil
	},
}
