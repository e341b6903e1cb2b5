package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(useCmd)
}

var useCmd = &cobra.Command{
	Use:   "use <tool> <version>",
	Short: "Switch the active version",
	Long:  "Rewrite the tool's environment block (home variable + PATH entries) so new processes see the chosen version.",
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
		if err := m.SwitchVersion(cmd.Context(), tool, args[1]); err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n", styleCurrent.Render("✓"), tool, args[1])
		if script, err := m.EnvScriptPath(tool); err == nil {
			fmt.Println(styleMuted.Render("  restart your shell or: source " + script))
		}
		return nil
	},
}
