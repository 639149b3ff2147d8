package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks gateway health from /health polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	RunningJobs   int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, stats Stats, pulse Pulse, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	statusIcon := "✅"
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
		statusIcon = "🔌"
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render(strings.ToUpper(health.Status))
		statusIcon = "⚠️"
	}

	lastEvent := "never"
	if at := activity.LastEvent(); !at.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(at).Round(time.Second))
	}

	title := fmt.Sprintf(" MACROGW WATCH %s", theme.Highlight.Render(pulse.Frame()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  Running: %d",
		statusIcon, statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.RunningJobs,
	)

	totalsLine := fmt.Sprintf(" Started %d  %s  %s  Rejected %d  Webhooks %d/%s",
		stats.Started,
		theme.StatusOK.Render(fmt.Sprintf("OK %d", stats.Completed)),
		theme.StatusFailed.Render(fmt.Sprintf("Failed %d", stats.Failed)),
		stats.Rejected,
		stats.Notified,
		theme.StatusFailed.Render(fmt.Sprintf("%d err", stats.WebhookErrs)),
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme))

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, totalsLine, activityLine),
	)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
