package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/HelloWorldSungin/claude-strategist/internal/records"
)

func renderFreshness(f *freshnessMsg, theme Theme, width int) string {
	innerWidth := width - 4
	lines := []string{theme.Heading.Render(" Freshness")}

	switch {
	case f == nil:
		lines = append(lines, theme.Muted.Render(" waiting for first report"))
	case f.CheckedAt == nil:
		lines = append(lines, theme.Muted.Render(" watchdog has not run yet"))
	case f.OK:
		lines = append(lines, fmt.Sprintf(" %s  checked %s ago",
			theme.Good.Render("all probes passing"),
			time.Since(*f.CheckedAt).Round(time.Second)))
	default:
		lines = append(lines, fmt.Sprintf(" %s  checked %s ago",
			theme.Bad.Render(fmt.Sprintf("%d issue(s)", len(f.Issues))),
			time.Since(*f.CheckedAt).Round(time.Second)))
		for _, issue := range f.Issues {
			lines = append(lines, "  - "+issue)
		}
	}
	return theme.Panel.Width(innerWidth).Render(strings.Join(lines, "\n"))
}

func newRunsTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 20},
			{Title: "Started", Width: 20},
			{Title: "Duration", Width: 10},
			{Title: "Tries", Width: 5},
			{Title: "Error", Width: 40},
		}),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	t.SetStyles(s)
	return t
}

func runRows(runs []records.Run) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		st := "✓"
		if r.Status != records.StatusSuccess {
			st = "✗"
		}
		rows = append(rows, table.Row{
			st,
			r.Job,
			r.StartedAt.Local().Format("01-02 15:04:05"),
			formatDuration(r.Duration),
			fmt.Sprintf("%d", r.Attempts),
			firstLine(r.Error),
		})
	}
	return rows
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
