package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/macrogw/internal/dispatch"
)

const (
	msgMissingParams  = "Missing required parameters: name and outboundWebhook"
	msgBadURLParams   = "urlParams must be an object"
	msgBadWebhook     = "outboundWebhook must be an absolute http or https URL"
	msgInvalidJSON    = "invalid JSON body"
	msgBodyTooLarge   = "request body too large"
	msgUnknownEngine  = "unknown engine"
	statusTestStarted = "Test started"
)

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		RunningJobs:   len(s.dispatcher.Running()),
	})
}

// handleRunMacro handles POST /run-macro. The engine run is dispatched in the
// background and the response is sent immediately; dispatch failures are
// only logged.
func (s *Server) handleRunMacro(w http.ResponseWriter, r *http.Request) {
	req, status, msg := s.parseRunMacro(r)
	if status != 0 {
		s.writeError(w, status, msg)
		return
	}

	logger := s.logger.With("macro", req.Name, "request_id", middleware.GetReqID(r.Context()))
	ctx := context.WithoutCancel(r.Context())
	go func() {
		job, err := s.dispatcher.Dispatch(ctx, req)
		if err != nil {
			if dispatch.IsRejection(err) {
				logger.Warn("dispatch rejected", "error", err)
			} else {
				logger.Error("dispatch failed", "error", err)
			}
			return
		}
		logger.Info("job dispatched", "job_id", job.JobID, "engine", job.Engine)
	}()

	respondJSON(w, http.StatusOK, RunMacroResponse{
		Status:         statusTestStarted,
		Name:           req.Name,
		IsFolder:       req.IsFolder,
		NewInstance:    req.NewInstance,
		Timeout:        req.TimeoutSeconds,
		URLParamsCount: len(req.URLParams),
	})
}

// parseRunMacro validates and normalizes a trigger body. A non-zero status
// means the request must be rejected with msg.
func (s *Server) parseRunMacro(r *http.Request) (dispatch.JobRequest, int, string) {
	var req dispatch.JobRequest

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, http.StatusRequestEntityTooLarge, msgBodyTooLarge
		}
		return req, http.StatusBadRequest, msgInvalidJSON
	}

	body := map[string]any{}
	if len(raw) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return req, http.StatusBadRequest, msgInvalidJSON
		}
		obj, ok := decoded.(map[string]any)
		if !ok {
			return req, http.StatusBadRequest, msgInvalidJSON
		}
		body = obj
	}

	name, _ := body["name"].(string)
	hook, _ := body["outboundWebhook"].(string)
	if name == "" || hook == "" {
		return req, http.StatusBadRequest, msgMissingParams
	}
	if !validWebhookURL(hook) {
		return req, http.StatusBadRequest, msgBadWebhook
	}

	params := map[string]any{}
	if v, ok := body["urlParams"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return req, http.StatusBadRequest, msgBadURLParams
		}
		params = m
	}

	engine, _ := body["engine"].(string)
	if engine != "" && len(s.config.Engines) > 0 && !slices.Contains(s.config.Engines, engine) {
		return req, http.StatusBadRequest, msgUnknownEngine + ": " + engine
	}

	req = dispatch.JobRequest{
		Name:            name,
		IsFolder:        dispatch.ParseFlag(body["isFolder"], false),
		OutboundWebhook: hook,
		URLParams:       params,
		NewInstance:     dispatch.ParseFlag(body["newInstance"], true),
		TimeoutSeconds:  dispatch.ParseTimeout(body["timeout"]),
		Engine:          engine,
	}
	return req, 0, ""
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, JobsResponse{Jobs: s.dispatcher.Running()})
}

// handleTerminateJob handles DELETE /jobs/{id}.
func (s *Server) handleTerminateJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.dispatcher.Terminate(id); err != nil {
		if errors.Is(err, dispatch.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to terminate job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to terminate job")
		return
	}
	respondJSON(w, http.StatusAccepted, TerminateResponse{ID: id, Status: "terminating"})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
