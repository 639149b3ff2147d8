package dispatch

import "time"

// Outcome statuses.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// DefaultTimeout is used when a timeout is absent, unparsable or not positive.
const DefaultTimeout = 300

// JobRequest is a validated trigger request. It is never mutated by the dispatcher.
type JobRequest struct {
	Name            string
	IsFolder        bool
	OutboundWebhook string
	URLParams       map[string]any
	NewInstance     bool
	TimeoutSeconds  int
	// Engine selects a configured engine; empty means the default engine.
	Engine string
}

// Outcome is the terminal result of a job, also the outbound webhook payload.
type Outcome struct {
	Status      string    `json:"status"`
	Name        string    `json:"name"`
	IsFolder    bool      `json:"isFolder"`
	NewInstance bool      `json:"newInstance"`
	Timeout     int       `json:"timeout"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error,omitempty"`
	JobID       string    `json:"jobId"`
	Engine      string    `json:"engine"`
}

// JobInfo is a point-in-time view of a job for listings.
type JobInfo struct {
	ID          uint64    `json:"id"`
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"`
	IsFolder    bool      `json:"is_folder"`
	Engine      string    `json:"engine"`
	State       string    `json:"state"`
	PID         int       `json:"pid,omitempty"`
	NewInstance bool      `json:"new_instance"`
	Timeout     int       `json:"timeout"`
	StartedAt   time.Time `json:"started_at"`
}
