// Package log holds the process-wide structured logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// redacted lists attribute keys whose values never reach the log output.
var redacted = map[string]struct{}{
	"api_key":        {},
	"authorization":  {},
	"x-api-key":      {},
	"signing_secret": {},
}

// Setup configures the global logger once; later calls are ignored.
// Unknown levels fall back to info, unknown formats to JSON.
func Setup(level, format string) {
	once.Do(func() {
		logger = newLogger(os.Stdout, level, format)
		slog.SetDefault(logger)
	})
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redact,
	}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redacted[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Get returns the configured logger, setting up an info/JSON one on first use.
func Get() *slog.Logger {
	if logger == nil {
		Setup("info", "json")
	}
	return logger
}

// WithComponent returns a logger tagged with component=name.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}
