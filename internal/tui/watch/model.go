package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/macrogw/internal/dispatch"
	"github.com/mattjoyce/macrogw/internal/events"
)

const (
	healthInterval = 5 * time.Second
	jobsPollTicks  = 2
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	client client

	width  int
	height int

	health   HealthState
	stats    Stats
	jobs     []dispatch.JobInfo
	recent   []Outcome
	eventLog []events.Event
	lastID   int64
	ticks    int

	jobTable table.Model
	pulse    Pulse
	activity Activity
	theme    Theme

	hubEvents chan events.Event

	lastError string
	notice    string
}

// New creates a watch model for the gateway at apiURL.
func New(apiURL, apiKey string) *Model {
	return &Model{
		client:    newClient(apiURL, apiKey),
		hubEvents: make(chan events.Event, 100),
		jobTable:  newJobTable(),
		pulse:     NewPulse(),
		theme:     NewDefaultTheme(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.client.subscribeToEvents(0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.client.fetchHealth,
		m.client.fetchJobs,
		tick(),
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
			return m, tea.Batch(m.client.fetchHealth, m.client.fetchJobs)
		case "x":
			row := m.jobTable.SelectedRow()
			if len(row) == 0 {
				return m, nil
			}
			m.notice = fmt.Sprintf("terminating job %s...", row[0])
			return m, m.client.terminateJob(row[0])
		}
		var cmd tea.Cmd
		m.jobTable, cmd = m.jobTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.pulse.Advance()
		m.activity.Fade(time.Time(msg))
		m.jobTable.SetRows(jobRows(m.jobs, time.Time(msg)))
		m.ticks++
		if m.ticks%jobsPollTicks == 0 {
			return m, tea.Batch(tick(), m.client.fetchJobs)
		}
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.recent = applyEvent(&m.stats, m.recent, e)
		m.activity.Mark(time.Now())
		m.health.Connected = true
		m.lastError = ""

		next := receiveNextEvent(m.hubEvents)
		if refreshesJobs(e.Type) {
			return m, tea.Batch(next, m.client.fetchJobs)
		}
		return m, next

	case jobsMsg:
		m.jobs = msg
		m.health.RunningJobs = len(msg)
		m.jobTable.SetRows(jobRows(m.jobs, time.Now()))

	case terminatedMsg:
		m.notice = fmt.Sprintf("job %s terminating", msg.id)
		return m, m.client.fetchJobs

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.RunningJobs = msg.RunningJobs
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so the
		// new subscription feeds it directly.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.client.subscribeToEvents(m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.client.fetchHealth() })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to macrogw..."
	}

	parts := []string{
		renderHeader(m.health, m.stats, m.pulse, m.activity, m.theme, m.width),
		renderJobs(m.jobTable, len(m.jobs), m.theme, m.width),
		renderRecent(m.recent, m.theme, m.width),
		renderEventStream(m.eventLog, 10, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	} else if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}
	parts = append(parts, m.theme.Help.Render(" [q] Quit • [↑/↓] Select job • [x] Terminate • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
