package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/macrogw/internal/events"
)

const sseKeepAlive = 15 * time.Second

// sseStream writes text/event-stream frames and flushes after each one.
type sseStream struct {
	w      io.Writer
	f      http.Flusher
	lastID int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payloads are compact JSON, so one data line suffices.
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	s.lastID = ev.ID
	s.f.Flush()
	return nil
}

func (s *sseStream) ping() error {
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleEvents serves GET /events. A Last-Event-ID header replays buffered
// events newer than that id before live ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the replay so nothing published in between is lost;
	// send drops the duplicates by id.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := &sseStream{w: w, f: flusher, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.events.Since(stream.lastID) {
		if stream.send(ev) != nil {
			return
		}
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			return
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
