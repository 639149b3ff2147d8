package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/macrogw/internal/events"
)

const maxEventLog = 50

func renderEventStream(eventLog []events.Event, rows int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render("EVENT STREAM")

	if len(eventLog) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Waiting for events...")),
		)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func formatEvent(e events.Event, theme Theme) string {
	var typeStyle lipgloss.Style
	switch e.Type {
	case events.JobCompleted, events.JobNotified:
		typeStyle = theme.StatusOK
	case events.JobFailed, events.WebhookFailed:
		typeStyle = theme.StatusFailed
	case events.JobStarted:
		typeStyle = theme.StatusRunning
	case events.JobTerminated, events.JobRejected:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s",
		theme.Dim.Render(e.At.Format("15:04:05")),
		typeStyle.Render(fmt.Sprintf("%-15s", e.Type)),
		extractEventDesc(e),
	)
}

func extractEventDesc(e events.Event) string {
	p := decodePayload(e)

	var parts []string
	if p.JobID != "" {
		parts = append(parts, "["+shortID(p.JobID)+"]")
	}
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	if p.Engine != "" {
		parts = append(parts, "@"+p.Engine)
	}
	if p.Status != "" {
		parts = append(parts, p.Status)
	}
	if p.Error != "" {
		parts = append(parts, "- "+truncate(p.Error, 48))
	}

	if len(parts) == 0 {
		return truncate(string(e.Data), 60)
	}
	return strings.Join(parts, " ")
}
