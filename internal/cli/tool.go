package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(toolCmd)
	toolCmd.AddCommand(toolAddCmd)
	toolCmd.AddCommand(toolRmCmd)
	toolCmd.AddCommand(toolRootCmd)
}

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Manage tool configurations",
}

var toolAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a tool",
	Long:  "Add a tool to the configuration, seeded from the bundled template when one exists.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.AddToolConfig(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s tool %s added\n", styleCurrent.Render("✓"), args[0])
		return nil
	},
}

var toolRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a tool's configuration",
	Long:  "Drop the tool's template, state and cache. Installed files stay on disk; uninstall versions first if you want them gone.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		tool, err := resolveTool(m, args[0])
		if err != nil {
			return err
		}
		if err := m.DeleteToolConfig(tool); err != nil {
			return err
		}
		fmt.Printf("%s tool %s removed (installed files kept)\n", styleCurrent.Render("✓"), tool)
		return nil
	},
}

var toolRootCmd = &cobra.Command{
	Use:   "root <tool> <path>",
	Short: "Set where a tool's versions are stored",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		tool, err := resolveTool(m, args[0])
		if err != nil {
			return err
		}
		path, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		if err := m.SetToolRoot(cmd.Context(), tool, path); err != nil {
			return err
		}
		fmt.Printf("%s %s root set to %s\n", styleCurrent.Render("✓"), tool, path)
		return nil
	},
}
