package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(uninstallCmd)
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <tool> <version>",
	Short: "Remove an installed version",
	Long:  "Delete the version's directory under the tool root and drop it from the installed set. Locked, current and system versions are refused.",
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
		if err := m.UninstallVersion(cmd.Context(), tool, args[1]); err != nil {
			return err
		}
		fmt.Printf("%s %s %s uninstalled\n", styleCurrent.Render("✓"), tool, args[1])
		return nil
	},
}
