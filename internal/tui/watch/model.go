package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	pollInterval = 5 * time.Second
	runsLimit    = 20
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	health    HealthState
	freshness *freshnessMsg
	runs      table.Model

	beat    Heartbeat
	spinner spinner.Model
	theme   Theme

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, token string) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Model{
		apiURL:  apiURL,
		token:   token,
		runs:    newRunsTable(),
		beat:    NewHeartbeat(time.Now()),
		spinner: sp,
		theme:   NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return fetchHealth(m.apiURL) },
		func() tea.Msg { return fetchFreshness(m.apiURL, m.token) },
		func() tea.Msg { return fetchRuns(m.apiURL, m.token, runsLimit) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(
				func() tea.Msg { return fetchFreshness(m.apiURL, m.token) },
				func() tea.Msg { return fetchRuns(m.apiURL, m.token, runsLimit) },
			)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.runs.SetWidth(m.width - 6)

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Admission = msg.Admission
		m.health.Connected = true
		m.beat.Beat(time.Now())
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, pollAfter(pollInterval, func() tea.Msg { return fetchHealth(m.apiURL) })

	case freshnessMsg:
		f := msg
		m.freshness = &f
		return m, pollAfter(pollInterval, func() tea.Msg { return fetchFreshness(m.apiURL, m.token) })

	case runsMsg:
		m.runs.SetRows(runRows(msg))
		return m, pollAfter(pollInterval, func() tea.Msg { return fetchRuns(m.apiURL, m.token, runsLimit) })

	case errMsg:
		m.lastError = msg.Error()
		if msg.down {
			m.health.Connected = false
		}
		if msg.retry == nil {
			return m, nil
		}
		return m, pollAfter(pollInterval, msg.retry)
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := renderHeader(m.health, m.beat, m.spinner.View(), m.theme, m.width)
	fresh := renderFreshness(m.freshness, m.theme, m.width)
	runs := m.theme.Panel.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Heading.Render(" Recent job runs"), m.runs.View()),
	)

	parts := []string{header, fresh, runs}
	if m.lastError != "" {
		parts = append(parts, m.theme.Bad.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
