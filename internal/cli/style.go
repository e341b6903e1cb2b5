package cli

import "github.com/charmbracelet/lipgloss"

// Palette based on Vitesse Dark Soft, same as the rest of the family.
var (
	styleTool    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4d9375"))
	styleCurrent = lipgloss.NewStyle().Foreground(lipgloss.Color("#4d9375"))
	styleLocked  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e6cc77"))
	styleSystem  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5eaab5"))
	styleLTS     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6394bf"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#bfbaaa"))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("#cb7676"))
)
