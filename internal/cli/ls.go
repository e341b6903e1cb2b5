package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(lsCmd)
}

var lsCmd = &cobra.Command{
	Use:   "ls [tool]",
	Short: "List installed versions",
	Long:  "Scan the tool root(s) and list installed versions, marking the current, locked and system entries.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		tools := m.Store().ToolNames()
		if len(args) == 1 {
			tool, err := resolveTool(m, args[0])
			if err != nil {
				return err
			}
			tools = []string{tool}
		}

		for _, tool := range tools {
			list, err := m.ListInstalled(cmd.Context(), tool)
			if err != nil {
				return err
			}
			cur, _ := m.CurrentVersion(tool)
			fmt.Println(styleTool.Render(tool))
			if len(list) == 0 {
				fmt.Println(styleMuted.Render("  (no versions installed)"))
				continue
			}
			for _, iv := range list {
				var line strings.Builder
				if iv.Version == cur {
					line.WriteString(styleCurrent.Render("* "))
				} else {
					line.WriteString("  ")
				}
				line.WriteString(iv.Version)
				if iv.System {
					line.WriteString(" " + styleSystem.Render("(system)"))
				}
				if iv.Locked {
					line.WriteString(" " + styleLocked.Render("[locked]"))
				}
				fmt.Println("  " + line.String())
			}
		}
		return nil
	},
}
