package api

import "github.com/mattjoyce/macrogw/internal/dispatch"

// RunMacroResponse is returned by POST /run-macro once the job is handed to
// the dispatcher.
type RunMacroResponse struct {
	Status         string `json:"status"`
	Name           string `json:"name"`
	IsFolder       bool   `json:"isFolder"`
	NewInstance    bool   `json:"newInstance"`
	Timeout        int    `json:"timeout"`
	URLParamsCount int    `json:"urlParamsCount"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RunningJobs   int    `json:"running_jobs"`
}

// JobsResponse is returned by GET /jobs.
type JobsResponse struct {
	Jobs []dispatch.JobInfo `json:"jobs"`
}

// TerminateResponse is returned by DELETE /jobs/{id}.
type TerminateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
