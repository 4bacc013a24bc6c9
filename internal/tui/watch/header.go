package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/HelloWorldSungin/claude-strategist/internal/relay"
)

// HealthState tracks relay health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Admission     relay.Stats
	Connected     bool
	LastCheck     time.Time
}

// stallWindow is how long the header tolerates missing health polls.
const stallWindow = 3 * pollInterval

func renderHeader(health HealthState, beat Heartbeat, spin string, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.Good.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.Bad.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Bad.Render("DEGRADED")
	}

	uptimeStr := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastCheck := "never"
	if !health.LastCheck.IsZero() {
		lastCheck = fmt.Sprintf("%s ago", time.Since(health.LastCheck).Round(time.Second))
	}

	pulse := theme.Accent.Render(beat.Frame())
	if health.Connected && beat.Stalled(time.Now(), stallWindow) {
		pulse = theme.Bad.Render("STALLED")
	}
	clock := theme.Muted.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" STRATEGIST WATCH %s", pulse)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	a := health.Admission
	constrained := fmt.Sprintf("%d/%d", a.ConstrainedInFlight, a.ConstrainedCeiling)
	if a.ConstrainedCeiling > 0 && a.ConstrainedInFlight >= a.ConstrainedCeiling {
		constrained = theme.Busy.Render(constrained)
	}
	spawns := fmt.Sprintf("%d/%d", a.SpawnsInWindow, a.SpawnCapacity)
	if a.SpawnCapacity > 0 && a.SpawnsInWindow >= a.SpawnCapacity {
		spawns = theme.Bad.Render(spawns)
	}

	statsLine := fmt.Sprintf(" %s  ⏱ %s  Spawns: %s  Constrained: %s",
		statusText, uptimeStr, spawns, constrained)
	activityLine := fmt.Sprintf(" %s Last check: %s", spin, lastCheck)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Panel.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
