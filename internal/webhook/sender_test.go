package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/macrogw/internal/config"
)

func TestSenderNotify(t *testing.T) {
	var got struct {
		method, contentType, userAgent, signature string
		body                                      []byte
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.contentType = r.Header.Get("Content-Type")
		got.userAgent = r.Header.Get("User-Agent")
		got.signature = r.Header.Get(SignatureHeader)
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewSender(config.WebhookConfig{}, "1.2.3")
	err := s.Notify(context.Background(), srv.URL, map[string]any{"status": "error", "name": "login_test"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "macrogw/1.2.3", got.userAgent)
	assert.Empty(t, got.signature)
	assert.JSONEq(t, `{"status":"error","name":"login_test"}`, string(got.body))
}

func TestSenderSignsBody(t *testing.T) {
	const secret = "shh"
	var verified atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified.Store(Verify(body, r.Header.Get(SignatureHeader), secret) == nil)
	}))
	defer srv.Close()

	s := NewSender(config.WebhookConfig{SigningSecret: secret, UserAgent: "custom/1"}, "dev")
	require.NoError(t, s.Notify(context.Background(), srv.URL, map[string]string{"status": "completed"}))
	assert.True(t, verified.Load())
}

func TestSenderNon2xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSender(config.WebhookConfig{}, "dev")
	err := s.Notify(context.Background(), srv.URL, json.RawMessage(`{}`))

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
	assert.Equal(t, "nope", de.Body)
	assert.Equal(t, int32(1), calls.Load(), "deliveries are not retried")
}

func TestSenderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s := NewSender(config.WebhookConfig{Timeout: 50 * time.Millisecond}, "dev")
	err := s.Notify(context.Background(), srv.URL, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post webhook")
}

func TestSenderUnencodablePayload(t *testing.T) {
	s := NewSender(config.WebhookConfig{}, "dev")
	err := s.Notify(context.Background(), "http://127.0.0.1:1", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode webhook payload")
}
