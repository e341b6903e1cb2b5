package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"toolvm/internal/manager"
	"toolvm/internal/system"
)

func init() {
	rootCmd.AddCommand(installCmd)
}

var installCmd = &cobra.Command{
	Use:   "install <tool> <version>",
	Short: "Download and install a version",
	Long:  "Fetch the version's archive from the configured mirrors (tried in order), verify its size and unpack it into the tool root.",
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
		ver := args[1]

		if !isatty.IsTerminal(os.Stdout.Fd()) {
			return installPlain(cmd, m, tool, ver)
		}
		return installTUI(m, tool, ver)
	},
}

// installPlain drives the install without a TUI, logging progress at a
// readable cadence.
func installPlain(cmd *cobra.Command, m *manager.Manager, tool, ver string) error {
	events, cancel := m.Subscribe()
	defer cancel()
	go func() {
		last := time.Now()
		for e := range events {
			if e.Kind == manager.EventProgress && e.Progress != nil && time.Since(last) > 2*time.Second {
				system.Logger.Info("downloading", "progress", manager.FormatProgress(*e.Progress))
				last = time.Now()
			}
		}
	}()
	if err := m.InstallVersion(cmd.Context(), tool, ver); err != nil {
		return err
	}
	fmt.Printf("%s %s %s installed\n", styleCurrent.Render("✓"), tool, ver)
	return nil
}

// installTUI renders a live progress bar while the install runs in the
// background; ctrl+c cancels the download cleanly.
func installTUI(m *manager.Manager, tool, ver string) error {
	events, cancel := m.Subscribe()
	defer cancel()
	m.InstallVersionAsync(tool, ver)

	im := installModel{
		mgr:    m,
		tool:   tool,
		ver:    ver,
		events: events,
		bar:    progress.New(progress.WithDefaultGradient()),
		spin:   spinner.New(spinner.WithSpinner(spinner.MiniDot)),
	}
	out, err := tea.NewProgram(im).Run()
	if err != nil {
		return err
	}
	final := out.(installModel)
	switch {
	case final.failed != "":
		return fmt.Errorf("%s", final.failed)
	case final.canceled:
		fmt.Println(styleMuted.Render("download canceled"))
		return nil
	default:
		fmt.Printf("%s %s %s installed\n", styleCurrent.Render("✓"), tool, ver)
		return nil
	}
}

type installModel struct {
	mgr    *manager.Manager
	tool   string
	ver    string
	events <-chan manager.Event

	bar        progress.Model
	spin       spinner.Model
	downloaded int64
	total      int64

	done     bool
	canceled bool
	failed   string
}

type installEvent manager.Event

func (m installModel) waitEvent() tea.Msg {
	e, ok := <-m.events
	if !ok {
		return nil
	}
	return installEvent(e)
}

func (m installModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitEvent)
}

func (m installModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.mgr.CancelDownload(m.tool)
			return m, m.waitEvent
		}
	case installEvent:
		e := manager.Event(msg)
		if e.Tool != "" && e.Tool != m.tool {
			return m, m.waitEvent
		}
		switch e.Kind {
		case manager.EventProgress:
			if e.Progress != nil {
				m.downloaded = e.Progress.Downloaded
				m.total = e.Progress.Total
			}
		case manager.EventInstalled:
			m.done = true
			return m, tea.Quit
		case manager.EventCanceled:
			m.canceled = true
			return m, tea.Quit
		case manager.EventFailed:
			m.failed = e.Message
			return m, tea.Quit
		}
		return m, m.waitEvent
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m installModel) View() string {
	if m.done || m.canceled || m.failed != "" {
		return ""
	}
	counts := humanize.Bytes(uint64(m.downloaded))
	if m.total > 0 {
		counts += " / " + humanize.Bytes(uint64(m.total))
	}
	bar := m.spin.View() + " waiting for mirror"
	if m.total > 0 {
		bar = m.bar.ViewAs(float64(m.downloaded) / float64(m.total))
	}
	return fmt.Sprintf("\n  %s %s %s\n  %s  %s\n\n  %s\n",
		styleTool.Render("installing"), m.tool, m.ver,
		bar, styleMuted.Render(counts),
		styleMuted.Render("ctrl+c to cancel"))
}
