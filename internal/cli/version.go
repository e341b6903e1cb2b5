package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"toolvm/internal/version"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the toolvm version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("toolvm " + version.AppVersion)
	},
}
