package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/macrogw/internal/config"
	"github.com/mattjoyce/macrogw/internal/events"
	"github.com/mattjoyce/macrogw/internal/log"
	"github.com/mattjoyce/macrogw/internal/macro"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// Dispatcher spawns engine runs and owns the registry of running processes.
type Dispatcher struct {
	cfg      *config.Config
	macros   MacroRepository
	notifier Notifier
	events   events.Publisher
	logger   *slog.Logger

	mu     sync.Mutex
	jobs   map[uint64]*Job
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

// New creates a new Dispatcher. pub may be nil.
func New(cfg *config.Config, macros MacroRepository, notifier Notifier, pub events.Publisher) *Dispatcher {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Dispatcher{
		cfg:      cfg,
		macros:   macros,
		notifier: notifier,
		events:   pub,
		logger:   log.WithComponent("dispatch"),
		jobs:     make(map[uint64]*Job),
	}
}

// Job is the handle for one engine run.
type Job struct {
	ID        uint64
	JobID     string
	Request   JobRequest
	Engine    string
	StartedAt time.Time

	engine config.EngineConf
	inv    invocation
	proc   *process
	logger *slog.Logger

	sm         stateMachine
	guard      deliveryGuard
	terminated atomic.Bool
	release    sync.Once

	done    chan struct{}
	outcome Outcome
	err     error
}

// Dispatch validates preconditions, spawns the engine and returns
// immediately. The run is monitored in the background; ctx only carries
// values to the monitor, its cancellation does not stop the run.
func (d *Dispatcher) Dispatch(ctx context.Context, req JobRequest) (*Job, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	engineName, engine, err := d.cfg.Engine(req.Engine)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, req.Engine)
	}

	logger := d.logger.With("macro", req.Name, "engine", engineName)

	if !req.IsFolder {
		if _, err := d.macros.Lookup(req.Name); err != nil {
			logger.Error("macro rejected", "error", err)
			d.events.Publish(events.JobRejected, map[string]any{
				"name":   req.Name,
				"engine": engineName,
				"error":  err.Error(),
			})
			if errors.Is(err, macro.ErrNotFound) || errors.Is(err, macro.ErrInvalidName) {
				return nil, fmt.Errorf("%w: %w", ErrMacroNotFound, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrMacroLookup, err)
		}
	}

	inv := normalize(req)
	jobArgs, err := inv.argv(req)
	if err != nil {
		return nil, fmt.Errorf("encode urlParams: %w", err)
	}
	args := append(append([]string{}, engine.Args...), jobArgs...)

	job := &Job{
		JobID:     uuid.NewString(),
		Request:   req,
		Engine:    engineName,
		StartedAt: time.Now().UTC(),
		engine:    engine,
		inv:       inv,
		done:      make(chan struct{}),
	}
	job.logger = logger.With("job_id", job.JobID)
	job.proc = newProcess(engine.Command, args, engine.WorkDir, []string{"MACROGW_JOB_ID=" + job.JobID}, job.logger)

	job.logger.Debug("engine argv", "args", args)

	// The job becomes visible to Running, Terminate and Shutdown only once
	// its process has been started.
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrShuttingDown
	}
	_ = job.sm.Transition(StateRunning)
	job.proc.start()
	d.nextID++
	job.ID = d.nextID
	d.jobs[job.ID] = job
	d.wg.Add(1)
	d.mu.Unlock()

	job.logger.Info("started engine",
		"id", job.ID,
		"pid", job.proc.pid(),
		"is_folder", req.IsFolder,
		"new_instance", inv.newInstance,
		"timeout", inv.timeout,
		"command", engine.Command,
	)
	d.events.Publish(events.JobStarted, job.eventData())

	go d.monitor(context.WithoutCancel(ctx), job)
	return job, nil
}

// monitor consumes both process signals, in whichever order they arrive.
func (d *Dispatcher) monitor(ctx context.Context, job *Job) {
	defer d.wg.Done()
	defer close(job.done)

	completed, exited := job.proc.completed, job.proc.exited
	for completed != nil || exited != nil {
		select {
		case c := <-completed:
			completed = nil
			d.onCompletion(ctx, job, c)
		case code := <-exited:
			exited = nil
			d.onExit(ctx, job, code)
		}
	}

	state := job.sm.Current()
	level := slog.LevelInfo
	if state.Failed() {
		level = slog.LevelWarn
	}
	job.logger.Log(ctx, level, "job finished",
		"state", state.String(),
		"status", job.outcome.Status,
		"webhook_attempted", job.guard.Fired(),
	)
}

func (d *Dispatcher) onCompletion(ctx context.Context, job *Job, c completion) {
	d.unregister(job)

	if c.stderr != "" {
		job.logger.Warn("engine stderr", "stderr", truncateOutput(c.stderr))
	}
	job.logger.Debug("engine stdout", "stdout", truncateOutput(c.stdout))

	if c.err != nil {
		d.fail(ctx, job, StateFailedViaCallback, d.engineError(job, c.exitCode, c.err, c.stderr))
		return
	}

	next, status, msg := StateCompletedOk, StatusCompleted, ""
	if marker := findMarker(c.stdout, job.engine.ErrorMarkers); marker != "" {
		next, status, msg = StateCompletedWithMarker, StatusError, "engine reported "+marker
	}
	if err := job.sm.Transition(next); err != nil {
		job.logger.Debug("completion ignored", "error", err)
		return
	}

	job.outcome = job.newOutcome(status, msg)
	if status == StatusError {
		job.logger.Error("engine reported an error", "marker", msg)
		d.events.Publish(events.JobFailed, job.eventData())
	} else {
		job.logger.Info("engine completed")
		d.events.Publish(events.JobCompleted, job.eventData())
	}

	if !job.engine.SelfReporting && job.engine.Notify == config.NotifyAlways {
		d.deliver(ctx, job)
	}
	_ = job.sm.Transition(StateDone)
}

func (d *Dispatcher) onExit(ctx context.Context, job *Job, code int) {
	d.unregister(job)
	job.logger.Info("engine exited", "exit_code", code)

	// Exit 0 is classified by the completion signal.
	if code == 0 {
		return
	}
	d.fail(ctx, job, StateFailedViaExit, d.engineError(job, code, nil, ""))
}

// fail records the first failure; later failure signals for the same job are no-ops.
func (d *Dispatcher) fail(ctx context.Context, job *Job, via State, ee *EngineError) {
	if err := job.sm.Transition(via); err != nil {
		job.logger.Debug("failure already recorded", "signal", via.String())
		return
	}

	job.outcome = job.newOutcome(StatusError, ee.Message)
	job.err = ee
	if ee.AlreadyRunning {
		job.logger.Error(ee.Message, "exit_code", ee.ExitCode)
	} else {
		job.logger.Error("engine run failed", "exit_code", ee.ExitCode, "error", ee.Message)
	}
	d.events.Publish(events.JobFailed, job.eventData())

	if !job.engine.SelfReporting {
		d.deliver(ctx, job)
	}
	_ = job.sm.Transition(StateNotifiedError)
}

// deliver posts the outcome once per job.
func (d *Dispatcher) deliver(ctx context.Context, job *Job) {
	if !job.guard.Acquire() {
		return
	}
	if d.notifier == nil {
		return
	}

	url := job.Request.OutboundWebhook
	if err := d.notifier.Notify(ctx, url, job.outcome); err != nil {
		job.logger.Error("outbound webhook failed", "url", url, "error", err)
		data := job.eventData()
		data["url"] = url
		data["delivery_error"] = err.Error()
		d.events.Publish(events.WebhookFailed, data)
		return
	}
	job.logger.Info("outbound webhook sent", "url", url, "status", job.outcome.Status)
	d.events.Publish(events.JobNotified, job.eventData())
}

func (d *Dispatcher) engineError(job *Job, code int, err error, stderr string) *EngineError {
	ee := &EngineError{ExitCode: code, Stderr: truncateOutput(stderr)}
	switch {
	case job.terminated.Load():
		ee.Message = "engine run terminated by operator"
	case code == job.engine.AlreadyRunningExitCode:
		ee.AlreadyRunning = true
		ee.Message = alreadyRunningMessage(job.engine.DisplayName)
	case code < 0:
		// Spawn failure or killed by a signal.
		ee.Message = "engine invocation failed"
		if err != nil {
			ee.Message += ": " + err.Error()
		}
	default:
		ee.Message = fmt.Sprintf("engine exited with code %d", code)
		if line := lastLine(stderr); line != "" {
			ee.Message += ": " + line
		}
	}
	return ee
}

func (d *Dispatcher) unregister(job *Job) {
	job.release.Do(func() {
		d.mu.Lock()
		delete(d.jobs, job.ID)
		d.mu.Unlock()
	})
}

// Running returns the jobs whose engine has not exited yet, oldest first.
func (d *Dispatcher) Running() []JobInfo {
	d.mu.Lock()
	jobs := make([]*Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		jobs = append(jobs, job)
	}
	d.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	out := make([]JobInfo, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Snapshot())
	}
	return out
}

// Terminate stops a running job, by job id or registry id.
func (d *Dispatcher) Terminate(id string) error {
	job := d.lookup(id)
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Terminate()
	d.events.Publish(events.JobTerminated, map[string]any{
		"id":     job.ID,
		"job_id": job.JobID,
		"name":   job.Request.Name,
		"engine": job.Engine,
	})
	return nil
}

func (d *Dispatcher) lookup(id string) *Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		if job, ok := d.jobs[n]; ok {
			return job
		}
	}
	for _, job := range d.jobs {
		if job.JobID == id {
			return job
		}
	}
	return nil
}

// Shutdown refuses new jobs, terminates running ones and waits for every
// monitor to finish or ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	jobs := make([]*Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		jobs = append(jobs, job)
	}
	d.mu.Unlock()

	for _, job := range jobs {
		job.Terminate()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the job reaches a terminal state. The error is non-nil
// when the engine run failed.
func (j *Job) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-j.done:
		return j.outcome, j.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Done is closed once the job is finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	return j.sm.Current()
}

// Terminate asks the engine to stop. It does not block.
func (j *Job) Terminate() {
	if j.sm.Current().Terminal() || j.terminated.Swap(true) {
		return
	}
	go j.proc.terminate()
}

func (j *Job) Snapshot() JobInfo {
	return JobInfo{
		ID:          j.ID,
		JobID:       j.JobID,
		Name:        j.Request.Name,
		IsFolder:    j.Request.IsFolder,
		Engine:      j.Engine,
		State:       j.sm.Current().String(),
		PID:         j.proc.pid(),
		NewInstance: j.inv.newInstance,
		Timeout:     j.inv.timeout,
		StartedAt:   j.StartedAt,
	}
}

func (j *Job) newOutcome(status, msg string) Outcome {
	return Outcome{
		Status:      status,
		Name:        j.Request.Name,
		IsFolder:    j.Request.IsFolder,
		NewInstance: j.inv.newInstance,
		Timeout:     j.inv.timeout,
		Timestamp:   time.Now().UTC(),
		Error:       msg,
		JobID:       j.JobID,
		Engine:      j.Engine,
	}
}

// eventData must only be called from the job's monitor goroutine, or before it starts.
func (j *Job) eventData() map[string]any {
	data := map[string]any{
		"id":     j.ID,
		"job_id": j.JobID,
		"name":   j.Request.Name,
		"engine": j.Engine,
		"state":  j.sm.Current().String(),
	}
	if j.outcome.Status != "" {
		data["status"] = j.outcome.Status
	}
	if j.outcome.Error != "" {
		data["error"] = j.outcome.Error
	}
	return data
}

func findMarker(stdout string, markers []string) string {
	for _, m := range markers {
		if m != "" && strings.Contains(stdout, m) {
			return m
		}
	}
	return ""
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// IsRejection reports whether err was raised before any engine was spawned.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMacroNotFound) || errors.Is(err, ErrMacroLookup) ||
		errors.Is(err, ErrUnknownEngine) || errors.Is(err, ErrShuttingDown)
}
