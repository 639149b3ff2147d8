package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrMacroNotFound        = errors.New("macro not found")
	ErrMacroLookup          = errors.New("macro lookup failed")
	ErrEngineAlreadyRunning = errors.New("engine already running")
	ErrEngineInvocation     = errors.New("engine invocation failed")
	ErrUnknownEngine        = errors.New("unknown engine")
	ErrJobNotFound          = errors.New("job not found")
	ErrShuttingDown         = errors.New("dispatcher is shutting down")
	ErrIllegalTransition    = errors.New("illegal state transition")
)

// EngineError describes a failed engine run. It matches ErrEngineAlreadyRunning
// or ErrEngineInvocation with errors.Is.
type EngineError struct {
	ExitCode       int
	Message        string
	Stderr         string
	AlreadyRunning bool
}

func (e *EngineError) Error() string {
	return e.Message
}

func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrEngineInvocation:
		return true
	case ErrEngineAlreadyRunning:
		return e.AlreadyRunning
	}
	return false
}

// alreadyRunningMessage is the remediation text for the reserved exit code.
func alreadyRunningMessage(displayName string) string {
	return fmt.Sprintf("%s is already running but not responding. Please kill the existing %s process and try again.", displayName, displayName)
}
