package watch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/macrogw/internal/dispatch"
	"github.com/mattjoyce/macrogw/internal/events"
)

const maxRecent = 8

// Outcome is a finished (or rejected) job seen on the event stream.
type Outcome struct {
	JobID   string
	Name    string
	Engine  string
	Status  string
	Error   string
	Webhook string // "", "sent" or "failed"
	At      time.Time
}

// Stats are totals counted from events since the watcher started.
type Stats struct {
	Started     int
	Completed   int
	Failed      int
	Rejected    int
	Notified    int
	WebhookErrs int
}

type eventPayload struct {
	JobID  string `json:"job_id"`
	Name   string `json:"name"`
	Engine string `json:"engine"`
	State  string `json:"state"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func decodePayload(e events.Event) eventPayload {
	var p eventPayload
	_ = json.Unmarshal(e.Data, &p)
	return p
}

// applyEvent folds one lifecycle event into the stats and recent outcomes.
func applyEvent(stats *Stats, recent []Outcome, e events.Event) []Outcome {
	p := decodePayload(e)

	switch e.Type {
	case events.JobStarted:
		stats.Started++
	case events.JobCompleted, events.JobFailed, events.JobRejected:
		switch e.Type {
		case events.JobCompleted:
			if p.Status == dispatch.StatusError {
				stats.Failed++
			} else {
				stats.Completed++
			}
		case events.JobFailed:
			stats.Failed++
		default:
			stats.Rejected++
			p.Status = "rejected"
		}
		o := Outcome{
			JobID:  p.JobID,
			Name:   p.Name,
			Engine: p.Engine,
			Status: p.Status,
			Error:  p.Error,
			At:     e.At,
		}
		recent = append([]Outcome{o}, recent...)
		if len(recent) > maxRecent {
			recent = recent[:maxRecent]
		}
	case events.JobNotified, events.WebhookFailed:
		mark := "sent"
		if e.Type == events.WebhookFailed {
			mark = "failed"
			stats.WebhookErrs++
		} else {
			stats.Notified++
		}
		for i := range recent {
			if recent[i].JobID != "" && recent[i].JobID == p.JobID {
				recent[i].Webhook = mark
				break
			}
		}
	}
	return recent
}

// refreshesJobs reports whether an event changes the set of running jobs.
func refreshesJobs(eventType string) bool {
	switch eventType {
	case events.JobStarted, events.JobCompleted, events.JobFailed, events.JobTerminated:
		return true
	}
	return false
}

func newJobTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 5},
			{Title: "Macro", Width: 24},
			{Title: "Engine", Width: 10},
			{Title: "State", Width: 10},
			{Title: "PID", Width: 8},
			{Title: "Age", Width: 8},
			{Title: "Job", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func jobRows(jobs []dispatch.JobInfo, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		name := j.Name
		if j.IsFolder {
			name += "/"
		}
		pid := "-"
		if j.PID > 0 {
			pid = strconv.Itoa(j.PID)
		}
		rows = append(rows, table.Row{
			strconv.FormatUint(j.ID, 10),
			name,
			j.Engine,
			j.State,
			pid,
			formatDuration(now.Sub(j.StartedAt)),
			shortID(j.JobID),
		})
	}
	return rows
}

func renderJobs(t table.Model, count int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("RUNNING JOBS (%d)", count))
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No engines running")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func renderRecent(recent []Outcome, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render("RECENT OUTCOMES")
	if len(recent) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  Nothing finished yet")),
		)
	}

	lines := make([]string, 0, len(recent))
	for _, o := range recent {
		lines = append(lines, formatOutcome(o, theme))
	}
	body := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}

func formatOutcome(o Outcome, theme Theme) string {
	var status string
	switch o.Status {
	case dispatch.StatusCompleted:
		status = theme.StatusOK.Render("✓ completed")
	case "rejected":
		status = theme.StatusQueued.Render("⊘ rejected")
	default:
		status = theme.StatusFailed.Render("✗ " + o.Status)
	}

	line := fmt.Sprintf("%s %-24s %-9s %s",
		theme.Dim.Render(o.At.Format("15:04:05")), o.Name, o.Engine, status)

	switch o.Webhook {
	case "sent":
		line += theme.Dim.Render("  → webhook")
	case "failed":
		line += theme.StatusFailed.Render("  → webhook failed")
	}
	if o.Error != "" {
		line += "\n" + theme.Dim.Render("           "+truncate(o.Error, 72))
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
