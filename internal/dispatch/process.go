package dispatch

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps the stdout/stderr kept for logs and error reports.
	maxOutputBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// completion is the engine's completion signal: the run error (if any) with
// the captured output.
type completion struct {
	err      error
	exitCode int
	stdout   string
	stderr   string
}

// process is one engine subprocess. Its two signals, completed and exited,
// are each sent exactly once.
type process struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer

	completed chan completion
	exited    chan int
	waited    chan struct{}

	mu          sync.Mutex
	started     bool
	pidv        int
	termPending bool

	termOnce sync.Once
	logger   *slog.Logger
}

func newProcess(command string, args []string, dir string, env []string, logger *slog.Logger) *process {
	// Not CommandContext: termination is managed explicitly.
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	// Engines start browsers; signal the whole group so nothing is orphaned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Browsers left running in the background may keep the output pipes open.
	cmd.WaitDelay = terminationGracePeriod

	p := &process{
		cmd:       cmd,
		completed: make(chan completion, 1),
		exited:    make(chan int, 1),
		waited:    make(chan struct{}),
		logger:    logger,
	}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr
	return p
}

// start launches the subprocess. A failed start is reported through the
// regular signals with exit code -1, so callers handle a single path.
func (p *process) start() {
	err := p.cmd.Start()

	p.mu.Lock()
	p.started = true
	if err == nil {
		p.pidv = p.cmd.Process.Pid
	}
	pending := p.termPending
	p.mu.Unlock()

	if err != nil {
		p.completed <- completion{err: err, exitCode: -1}
		p.exited <- -1
		close(p.waited)
		return
	}
	if pending {
		go p.terminate()
	}

	go func() {
		err := p.cmd.Wait()
		code := -1
		if p.cmd.ProcessState != nil {
			code = p.cmd.ProcessState.ExitCode()
		}
		if errors.Is(err, exec.ErrWaitDelay) && code == 0 {
			p.logger.Warn("engine exited but left its output open", "grace", terminationGracePeriod)
			err = nil
		}

		p.completed <- completion{
			err:      err,
			exitCode: code,
			stdout:   p.stdout.String(),
			stderr:   p.stderr.String(),
		}
		p.exited <- code
		close(p.waited)
	}()
}

// pid is 0 until the process has started, and stays 0 if the start failed.
func (p *process) pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pidv
}

// terminate sends SIGTERM to the process group, then SIGKILL once the grace
// period expires. Only the first call after start has any effect; it blocks
// until the process is gone. A call before start is deferred until start.
func (p *process) terminate() {
	p.mu.Lock()
	if !p.started {
		p.termPending = true
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.termOnce.Do(func() {
		pid := p.pid()
		if pid == 0 {
			return
		}
		select {
		case <-p.waited:
			return
		default:
		}

		p.logger.Warn("terminating engine, sending SIGTERM", "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			p.logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case <-p.waited:
			p.logger.Info("engine exited after SIGTERM")
		case <-grace.C:
			p.logger.Warn("engine did not exit after SIGTERM, sending SIGKILL")
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
				p.logger.Error("failed to send SIGKILL", "error", err)
			}
			<-p.waited
		}
	})
}

// truncateOutput truncates s to maxOutputBytes.
func truncateOutput(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
