package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}

var lockCmd = &cobra.Command{
	Use:   "lock <tool> <version>",
	Short: "Protect an installed version from removal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setLocked(cmd, args, true)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <tool> <version>",
	Short: "Lift a version's removal protection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setLocked(cmd, args, false)
	},
}

func setLocked(cmd *cobra.Command, args []string, locked bool) error {
	m, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	tool, err := resolveTool(m, args[0])
	if err != nil {
		return err
	}
	if err := m.LockVersion(tool, args[1], locked); err != nil {
		return err
	}
	verb := "locked"
	if !locked {
		verb = "unlocked"
	}
	fmt.Printf("%s %s %s %s\n", styleCurrent.Render("✓"), tool, args[1], verb)
	return nil
}
