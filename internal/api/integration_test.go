package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/macrogw/internal/api"
	"github.com/mattjoyce/macrogw/internal/config"
	"github.com/mattjoyce/macrogw/internal/dispatch"
	"github.com/mattjoyce/macrogw/internal/events"
	"github.com/mattjoyce/macrogw/internal/macro"
	"github.com/mattjoyce/macrogw/internal/webhook"
)

// receiver records outbound webhook deliveries.
type receiver struct {
	mu    sync.Mutex
	posts []dispatch.Outcome
	got   chan struct{}
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var out dispatch.Outcome
	_ = json.NewDecoder(r.Body).Decode(&out)
	rc.mu.Lock()
	rc.posts = append(rc.posts, out)
	rc.mu.Unlock()
	rc.got <- struct{}{}
}

func (rc *receiver) snapshot() []dispatch.Outcome {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]dispatch.Outcome(nil), rc.posts...)
}

type stack struct {
	handler http.Handler
	hub     *events.Hub
	hook    *httptest.Server
	recv    *receiver
}

func newStack(t *testing.T, engineScript string) *stack {
	t.Helper()

	dir := t.TempDir()
	macros := filepath.Join(dir, "macros")
	require.NoError(t, os.MkdirAll(macros, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(macros, "login_test.json"), []byte(`{}`), 0o644))

	engine := filepath.Join(dir, "run-chromium.sh")
	require.NoError(t, os.WriteFile(engine, []byte("#!/bin/sh\n"+engineScript+"\n"), 0o755))

	cfg := config.Defaults()
	cfg.API.APIKey = "integration-key"
	cfg.Macros.Dir = macros
	cfg.Engines = map[string]config.EngineConf{
		"chromium": {
			Command:                engine,
			Notify:                 config.NotifyFailure,
			DisplayName:            "Chromium",
			AlreadyRunningExitCode: 3,
			ErrorMarkers:           config.DefaultErrorMarkers(),
		},
	}

	recv := &receiver{got: make(chan struct{}, 4)}
	hook := httptest.NewServer(recv)
	t.Cleanup(hook.Close)

	hub := events.NewHub(64)
	disp := dispatch.New(cfg, macro.NewRepository(macros, ".json"), webhook.NewSender(cfg.Webhook, "test"), hub)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = disp.Shutdown(ctx)
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := api.New(api.Config{
		APIKey:  cfg.API.APIKey,
		Engines: cfg.EngineNames(),
	}, disp, hub, logger)

	return &stack{handler: srv.Handler(), hub: hub, hook: hook, recv: recv}
}

func (s *stack) trigger(t *testing.T, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/run-macro", bytes.NewReader(raw))
	req.Header.Set("X-API-Key", "integration-key")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *stack) waitForEvent(t *testing.T, eventType string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, ev := range s.hub.Since(0) {
			if ev.Type == eventType {
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond, "no %s event", eventType)
}

func TestIntegrationAlreadyRunningPostsOnce(t *testing.T) {
	s := newStack(t, "exit 3")

	rr := s.trigger(t, map[string]any{
		"name":            "login_test",
		"outboundWebhook": s.hook.URL,
		"urlParams":       map[string]any{"cmd_var1": "alice"},
		"timeout":         60,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"Test started","name":"login_test","isFolder":false,"newInstance":true,"timeout":60,"urlParamsCount":1}`, rr.Body.String())

	select {
	case <-s.recv.got:
	case <-time.After(10 * time.Second):
		t.Fatal("no webhook delivered")
	}
	s.waitForEvent(t, events.JobNotified)
	time.Sleep(200 * time.Millisecond)

	posts := s.recv.snapshot()
	require.Len(t, posts, 1)
	assert.Equal(t, "error", posts[0].Status)
	assert.Equal(t, "login_test", posts[0].Name)
	assert.Equal(t, 60, posts[0].Timeout)
	assert.Equal(t, "Chromium is already running but not responding. Please kill the existing Chromium process and try again.", posts[0].Error)
	assert.NotEmpty(t, posts[0].JobID)
}

func TestIntegrationSuccessIsSilent(t *testing.T) {
	s := newStack(t, "echo ok")

	rr := s.trigger(t, map[string]any{"name": "login_test", "outboundWebhook": s.hook.URL})
	require.Equal(t, http.StatusOK, rr.Code)

	s.waitForEvent(t, events.JobCompleted)
	assert.Empty(t, s.recv.snapshot())
}

func TestIntegrationMissingMacroNeverSpawns(t *testing.T) {
	s := newStack(t, "exit 1")

	rr := s.trigger(t, map[string]any{"name": "ghost", "outboundWebhook": s.hook.URL})
	require.Equal(t, http.StatusOK, rr.Code)

	s.waitForEvent(t, events.JobRejected)
	for _, ev := range s.hub.Since(0) {
		assert.NotEqual(t, events.JobStarted, ev.Type)
	}
	assert.Empty(t, s.recv.snapshot())
}
