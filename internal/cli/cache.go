package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the cached remote version catalogs",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all cached remote catalogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.ClearCache(); err != nil {
			return err
		}
		fmt.Printf("%s cache cleared\n", styleCurrent.Render("✓"))
		return nil
	},
}
