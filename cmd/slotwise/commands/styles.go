package commands

import "github.com/charmbracelet/lipgloss"

type cliStyles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	OK      lipgloss.Style
	Warn    lipgloss.Style
	Fail    lipgloss.Style
	Running lipgloss.Style
}

var styles = newCLIStyles()

func newCLIStyles() cliStyles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	return cliStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(highlight),
		Section: lipgloss.NewStyle().Bold(true),
		Label:   lipgloss.NewStyle().Foreground(subtle),
		Muted:   lipgloss.NewStyle().Foreground(subtle),
		OK:      lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}),
		Fail:    lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}),
		Running: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}),
	}
}
