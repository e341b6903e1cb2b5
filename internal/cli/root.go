// Package cli maps cobra commands 1:1 onto VersionManager operations.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"toolvm/internal/config"
	"toolvm/internal/manager"
	"toolvm/internal/system"
	"toolvm/internal/validate"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "toolvm",
	Short: "toolvm – install, switch, lock and remove developer tool versions",
	Long: "toolvm manages multiple versions of developer tools (language runtimes,\n" +
		"build tools) on one machine: download from mirrors, switch the active\n" +
		"version by rewriting the environment, lock versions against removal.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		system.SetVerbose(verbose)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openManager builds the orchestrator over the default config
// directory. A malformed config file degrades to defaults with a
// warning instead of blocking the CLI.
func openManager() (*manager.Manager, error) {
	store, err := config.Open("")
	if err != nil {
		var cerr *config.ConfigError
		if !errors.As(err, &cerr) {
			return nil, err
		}
		system.Logger.Warn("config unreadable, continuing with defaults", "err", cerr.Err)
	}
	return manager.New(store), nil
}

// resolveTool maps a user-supplied name onto a configured tool,
// suggesting the closest match on a miss.
func resolveTool(m *manager.Manager, name string) (string, error) {
	name = validate.SanitizeToolName(name)
	names := m.Store().ToolNames()
	for _, n := range names {
		if n == name {
			return n, nil
		}
	}
	if matches := fuzzy.Find(name, names); len(matches) > 0 {
		return "", fmt.Errorf("unknown tool %q (did you mean %q?)", name, matches[0].Str)
	}
	return "", fmt.Errorf("unknown tool %q (run 'toolvm ls' for configured tools)", name)
}
