// Package watch implements the `system watch` terminal monitor. It polls
// the relay's HTTP boundary for health, freshness and recent job runs.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds the styles the panels render with.
type Theme struct {
	Good    lipgloss.Style
	Busy    lipgloss.Style
	Bad     lipgloss.Style
	Panel   lipgloss.Style
	Heading lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		Good:    lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")),
		Busy:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true),
		Panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5C6370")),
		Heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("#7F848E")),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")),
	}
}
