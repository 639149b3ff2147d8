package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/macrogw/internal/dispatch"
	"github.com/mattjoyce/macrogw/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RunningJobs   int    `json:"running_jobs"`
}

type jobsMsg []dispatch.JobInfo

type terminatedMsg struct{ id string }

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// client talks to a running gateway's HTTP API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string) client {
	return client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 2 * time.Second},
	}
}

func (c client) request(method, path string) (*http.Request, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// --- Commands ---

// subscribeToEvents streams GET /events into ch until the connection drops,
// then returns sseDisconnectedMsg. lastID is sent as Last-Event-ID so the
// server replays what was missed while disconnected.
func (c client) subscribeToEvents(lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := c.request(http.MethodGet, "/events")
		if err != nil {
			return errMsg(err)
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		// The stream is long-lived; no client timeout.
		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("event stream: %s", resp.Status))
		}

		readSSE(resp.Body, ch)
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a text/event-stream body, sending one Event per dispatched
// block. Comment lines (keep-alives) are ignored.
func readSSE(r io.Reader, ch chan<- events.Event) {
	scanner := bufio.NewScanner(r)
	var cur events.Event
	var data []string

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				cur.Data = []byte(strings.Join(data, "\n"))
				cur.At = time.Now()
				ch <- cur
			}
			cur = events.Event{}
			data = nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			if id, err := strconv.ParseInt(strings.TrimSpace(line[3:]), 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event:"):
			cur.Type = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line[5:], " "))
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries GET /health.
func (c client) fetchHealth() tea.Msg {
	var h healthMsg
	if err := c.getJSON("/health", &h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchJobs queries GET /jobs.
func (c client) fetchJobs() tea.Msg {
	var body struct {
		Jobs []dispatch.JobInfo `json:"jobs"`
	}
	if err := c.getJSON("/jobs", &body); err != nil {
		return errMsg(err)
	}
	return jobsMsg(body.Jobs)
}

// terminateJob asks the gateway to stop a running engine.
func (c client) terminateJob(id string) tea.Cmd {
	return func() tea.Msg {
		req, err := c.request(http.MethodDelete, "/jobs/"+url.PathEscape(id))
		if err != nil {
			return errMsg(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return errMsg(fmt.Errorf("terminate %s: %s", id, resp.Status))
		}
		return terminatedMsg{id: id}
	}
}

func (c client) getJSON(path string, v any) error {
	req, err := c.request(http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
