package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/macrogw/internal/config"
	"github.com/mattjoyce/macrogw/internal/log"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a receiver's reply is read.
	maxResponseBytes = 4 * 1024
)

// DeliveryError reports a receiver that answered with a non-2xx status.
type DeliveryError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("webhook %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Sender posts JSON payloads to outbound webhooks.
type Sender struct {
	client    *http.Client
	userAgent string
	secret    string
	logger    *slog.Logger
}

// NewSender builds a Sender from the webhook config. version is used in the
// default User-Agent.
func NewSender(cfg config.WebhookConfig, version string) *Sender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "macrogw/" + version
	}
	return &Sender{
		client:    &http.Client{Timeout: timeout},
		userAgent: ua,
		secret:    cfg.SigningSecret,
		logger:    log.WithComponent("webhook"),
	}
}

// Notify POSTs payload as JSON to url. It makes exactly one attempt.
func (s *Sender) Notify(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, s.secret))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	s.logger.Debug("webhook delivered",
		"url", url,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{URL: url, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(reply))}
	}
	return nil
}
