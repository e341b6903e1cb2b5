package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"toolvm/internal/history"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [tool]",
	Short: "Show recent download outcomes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		tool := ""
		if len(args) == 1 {
			if tool, err = resolveTool(m, args[0]); err != nil {
				return err
			}
		}
		records, err := m.History(tool)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println(styleMuted.Render("no download history"))
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %s %s  %s\n",
				styleMuted.Render(humanize.Time(r.CreatedAt)),
				styleTool.Render(r.Tool), r.Version, renderStatus(r))
		}
		return nil
	},
}

func renderStatus(r history.Record) string {
	switch r.Status {
	case history.StatusSuccess:
		return styleCurrent.Render(r.Status)
	case history.StatusCanceled:
		return styleMuted.Render(r.Status)
	default:
		if r.Error != "" {
			return styleErr.Render(r.Status) + " " + styleMuted.Render(r.Error)
		}
		return styleErr.Render(r.Status)
	}
}
