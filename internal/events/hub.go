// Package events fans job lifecycle events out to SSE clients.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Job lifecycle event types.
const (
	JobStarted    = "job.started"
	JobCompleted  = "job.completed"
	JobFailed     = "job.failed"
	JobRejected   = "job.rejected"
	JobNotified   = "job.notified"
	JobTerminated = "job.terminated"
	WebhookFailed = "webhook.failed"
)

const subscriberBuffer = 128

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Publisher is the write side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub is an in-memory pub/sub that keeps the most recent events in a ring so
// clients that connect late (or reconnect with Last-Event-ID) can catch up.
type Hub struct {
	mu     sync.Mutex
	lastID int64 // ids are assigned under mu, so ring and fan-out order match id order
	recent []Event
	head   int
	count  int
	closed bool

	subs    map[int]chan Event
	nextSub int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		recent: make([]Event, capacity),
		subs:   make(map[int]chan Event),
	}
}

// Publish records an event and offers it to every subscriber. Subscribers
// that are not keeping up miss the event rather than stall the publisher.
func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.lastID++
	ev := Event{
		ID:   h.lastID,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.remember(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new listener. The returned cancel func closes the
// channel and is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Since returns buffered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		ev := h.recent[(h.head+i)%len(h.recent)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Close disconnects every subscriber; later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) remember(ev Event) {
	if h.count < len(h.recent) {
		h.recent[(h.head+h.count)%len(h.recent)] = ev
		h.count++
		return
	}
	h.recent[h.head] = ev
	h.head = (h.head + 1) % len(h.recent)
}
