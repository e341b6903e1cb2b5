package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var lsRemoteRefresh bool

func init() {
	rootCmd.AddCommand(lsRemoteCmd)
	lsRemoteCmd.Flags().BoolVar(&lsRemoteRefresh, "refresh", false, "bypass the cache and hit the mirrors")
}

var lsRemoteCmd = &cobra.Command{
	Use:   "ls-remote <tool>",
	Short: "List installable versions from the mirrors",
	Long:  "Fetch the remote version catalog (cached between runs), grouped by major version.",
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
		groups, err := m.ListRemote(cmd.Context(), tool, lsRemoteRefresh)
		if err != nil {
			if groups == nil {
				return err
			}
			fmt.Println(styleErr.Render(fmt.Sprintf("mirrors unreachable, showing cached catalog (%v)", err)))
		}

		for _, g := range groups {
			header := g.Major + ".x"
			if g.HasLTS {
				header += " " + styleLTS.Render("(LTS)")
			}
			fmt.Println(styleTool.Render(header))
			for _, v := range g.Versions {
				var line strings.Builder
				line.WriteString("  " + v.Version)
				if v.IsLTS {
					line.WriteString(" " + styleLTS.Render("lts"))
				}
				if v.Installed {
					line.WriteString(" " + styleCurrent.Render("(installed)"))
				}
				fmt.Println(line.String())
			}
		}
		return nil
	},
}
