package watch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/macrogw/internal/dispatch"
	"github.com/mattjoyce/macrogw/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(t *testing.T, id int64, typ string, data map[string]any) events.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return events.Event{ID: id, Type: typ, At: time.Now(), Data: raw}
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: job.started",
		`data: {"job_id":"abc","name":"login_test"}`,
		"",
		"id: 8",
		"event: job.failed",
		`data: {"status":"error"}`,
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	readSSE(strings.NewReader(stream), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.JobStarted, got[0].Type)
	assert.JSONEq(t, `{"job_id":"abc","name":"login_test"}`, string(got[0].Data))
	assert.Equal(t, events.JobFailed, got[1].Type)
}

func TestApplyEvent(t *testing.T) {
	var stats Stats
	var recent []Outcome

	recent = applyEvent(&stats, recent, event(t, 1, events.JobStarted, map[string]any{"job_id": "j1", "name": "a"}))
	recent = applyEvent(&stats, recent, event(t, 2, events.JobFailed, map[string]any{
		"job_id": "j1", "name": "a", "engine": "chromium", "status": "error", "error": "engine exited with code 2",
	}))
	recent = applyEvent(&stats, recent, event(t, 3, events.JobNotified, map[string]any{"job_id": "j1"}))
	recent = applyEvent(&stats, recent, event(t, 4, events.JobCompleted, map[string]any{"job_id": "j2", "name": "b", "status": "completed"}))
	recent = applyEvent(&stats, recent, event(t, 5, events.JobCompleted, map[string]any{"job_id": "j3", "name": "c", "status": "error"}))
	recent = applyEvent(&stats, recent, event(t, 6, events.JobRejected, map[string]any{"name": "missing"}))
	recent = applyEvent(&stats, recent, event(t, 7, events.WebhookFailed, map[string]any{"job_id": "j3"}))

	assert.Equal(t, Stats{Started: 1, Completed: 1, Failed: 2, Rejected: 1, Notified: 1, WebhookErrs: 1}, stats)
	require.Len(t, recent, 4)
	assert.Equal(t, "rejected", recent[0].Status)
	assert.Equal(t, "failed", recent[1].Webhook)
	assert.Equal(t, "", recent[2].Webhook)
	assert.Equal(t, "sent", recent[3].Webhook)
	assert.Equal(t, "engine exited with code 2", recent[3].Error)
}

func TestApplyEventCapsRecent(t *testing.T) {
	var stats Stats
	var recent []Outcome
	for i := 0; i < maxRecent+3; i++ {
		recent = applyEvent(&stats, recent, event(t, int64(i), events.JobCompleted, map[string]any{"status": "completed"}))
	}
	assert.Len(t, recent, maxRecent)
	assert.Equal(t, maxRecent+3, stats.Completed)
}

func TestExtractEventDesc(t *testing.T) {
	e := event(t, 1, events.JobFailed, map[string]any{
		"job_id": "0123456789abcdef", "name": "login_test", "engine": "chromium", "status": "error",
	})
	assert.Equal(t, "[01234567] login_test @chromium error", extractEventDesc(e))

	raw := events.Event{Data: []byte(`{"other":true}`)}
	assert.Equal(t, `{"other":true}`, extractEventDesc(raw))
}

func TestJobRows(t *testing.T) {
	now := time.Now()
	rows := jobRows([]dispatch.JobInfo{
		{ID: 3, JobID: "fedcba9876543210", Name: "suite", IsFolder: true, Engine: "firefox", State: "running", PID: 4242, StartedAt: now.Add(-90 * time.Second)},
		{ID: 4, Name: "login", Engine: "chromium", State: "dispatched", StartedAt: now},
	}, now)

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"3", "suite/", "firefox", "running", "4242", "1m 30s", "fedcba98"}, []string(rows[0]))
	assert.Equal(t, "-", rows[1][4])
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", formatDuration(-time.Second))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "3h 7m", formatDuration(3*time.Hour+7*time.Minute))
}

func TestActivityFades(t *testing.T) {
	var a Activity
	start := time.Now()
	a.Mark(start)
	assert.Equal(t, activityDots, a.Dots())

	a.Fade(start.Add(5 * time.Second))
	assert.Equal(t, 3, a.Dots())

	a.Fade(start.Add(time.Minute))
	assert.Equal(t, 0, a.Dots())
}

func TestModelEventUpdatesState(t *testing.T) {
	m := New("http://127.0.0.1:1", "key")
	updated, cmd := m.Update(eventMsg(event(t, 12, events.JobStarted, map[string]any{"job_id": "j1"})))
	require.NotNil(t, cmd)

	got := updated.(Model)
	assert.Equal(t, int64(12), got.lastID)
	assert.Len(t, got.eventLog, 1)
	assert.Equal(t, 1, got.stats.Started)
	assert.True(t, got.health.Connected)
}

func TestModelQuit(t *testing.T) {
	m := New("http://127.0.0.1:1", "key")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestClientFetchesJobsAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/health":
			_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":61,"running_jobs":1}`))
		case r.Method == http.MethodGet && r.URL.Path == "/jobs":
			_, _ = w.Write([]byte(`{"jobs":[{"id":1,"job_id":"x","name":"login","engine":"chromium","state":"running"}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/jobs/1":
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newClient(srv.URL+"/", "secret")

	h, ok := c.fetchHealth().(healthMsg)
	require.True(t, ok)
	assert.Equal(t, healthMsg{Status: "ok", UptimeSeconds: 61, RunningJobs: 1}, h)

	jobs, ok := c.fetchJobs().(jobsMsg)
	require.True(t, ok)
	require.Len(t, jobs, 1)
	assert.Equal(t, "login", jobs[0].Name)

	assert.Equal(t, terminatedMsg{id: "1"}, c.terminateJob("1")())

	_, isErr := c.terminateJob("9")().(errMsg)
	assert.True(t, isErr)
}
