package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "text")
	require.NotNil(t, logger)

	// A second Setup is a no-op.
	prev := logger
	Setup("ERROR", "json")
	assert.Same(t, prev, logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info", "text").Info("hello", "k", "v")
	assert.True(t, strings.Contains(buf.String(), "k=v"), buf.String())

	buf.Reset()
	newLogger(&buf, "info", "json").Info("hello", "k", "v")
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "v", out["k"])

	buf.Reset()
	newLogger(&buf, "warn", "json").Info("dropped")
	assert.Empty(t, buf.String())
}

func TestSecretsAreRedacted(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info", "json").Info("request", "api_key", "hunter2", "Authorization", "Bearer x", "path", "/run-macro")

	assert.NotContains(t, buf.String(), "hunter2")
	assert.NotContains(t, buf.String(), "Bearer x")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Equal(t, "/run-macro", out["path"])
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))

	WithComponent("api").Info("hello")

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "api", out["component"])
	assert.Equal(t, "hello", out["msg"])
}
