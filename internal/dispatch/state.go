package dispatch

import (
	"fmt"
	"sync"
)

// State is a job lifecycle state.
type State int

const (
	StateDispatched State = iota
	StateRunning
	StateCompletedOk
	StateCompletedWithMarker
	StateFailedViaCallback
	StateFailedViaExit
	StateNotifiedError
	StateDone
)

func (s State) String() string {
	switch s {
	case StateDispatched:
		return "dispatched"
	case StateRunning:
		return "running"
	case StateCompletedOk:
		return "completed_ok"
	case StateCompletedWithMarker:
		return "completed_with_marker"
	case StateFailedViaCallback:
		return "failed_via_callback"
	case StateFailedViaExit:
		return "failed_via_exit"
	case StateNotifiedError:
		return "notified_error"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateNotifiedError || s == StateDone
}

// Failed reports whether the job ended, or is ending, in error.
func (s State) Failed() bool {
	return s == StateFailedViaCallback || s == StateFailedViaExit || s == StateNotifiedError
}

var transitions = map[State][]State{
	StateDispatched:          {StateRunning},
	StateRunning:             {StateCompletedOk, StateCompletedWithMarker, StateFailedViaCallback, StateFailedViaExit},
	StateCompletedOk:         {StateDone},
	StateCompletedWithMarker: {StateDone},
	StateFailedViaCallback:   {StateNotifiedError},
	StateFailedViaExit:       {StateNotifiedError},
	StateNotifiedError:       {},
	StateDone:                {},
}

// ValidTransition reports whether src may move to dst.
func ValidTransition(src, dst State) bool {
	for _, s := range transitions[src] {
		if s == dst {
			return true
		}
	}
	return false
}

type stateMachine struct {
	mu    sync.Mutex
	state State
}

func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) Transition(dst State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ValidTransition(m.state, dst) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, dst)
	}
	m.state = dst
	return nil
}
