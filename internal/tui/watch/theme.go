// Package watch implements the "macrogw system watch" TUI: gateway health,
// in-flight engine runs and the live job event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds every style the watch TUI renders with.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusQueued  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Help      lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

type palette struct {
	ok, running, failed lipgloss.Color
	muted, faint        lipgloss.Color
	accent, warm, text  lipgloss.Color
}

var defaultPalette = palette{
	ok:      "#50FA7B",
	running: "#F1FA8C",
	failed:  "#FF5555",
	muted:   "#888888",
	faint:   "#444444",
	accent:  "#5FAFD7",
	warm:    "#E5C07B",
	text:    "#FAFAFA",
}

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func newTheme(p palette) Theme {
	return Theme{
		StatusOK:      fg(p.ok),
		StatusRunning: fg(p.running),
		StatusFailed:  fg(p.failed),
		StatusQueued:  fg(p.muted),

		Border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.accent),
		Title:     fg(p.text).Bold(true).Padding(0, 1),
		Dim:       fg(p.muted),
		Highlight: fg(p.warm),
		Help:      fg(p.muted).Italic(true),

		TickerActive:   fg(p.ok),
		TickerInactive: fg(p.faint),
	}
}

func NewDefaultTheme() Theme {
	return newTheme(defaultPalette)
}
