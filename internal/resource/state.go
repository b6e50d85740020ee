package resource

import "fmt"

// State is the lifecycle state of a Runtime.
type State int

const (
	// StateUninitialized is a runtime that has not loaded its declaration.
	StateUninitialized State = iota
	// StateReady is an initialized runtime with no watch commands running.
	StateReady
	// StateWatchCommandsRunning has at least one watch command running.
	StateWatchCommandsRunning
	// StateWatchCommandsSuspended has watch commands paused, e.g. for a build.
	StateWatchCommandsSuspended
	// StateDisposed is terminal.
	StateDisposed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateWatchCommandsRunning:
		return "watch_commands_running"
	case StateWatchCommandsSuspended:
		return "watch_commands_suspended"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// transitions lists the legal moves out of each state.
var transitions = map[State][]State{
	StateUninitialized:          {StateReady, StateDisposed},
	StateReady:                  {StateReady, StateWatchCommandsRunning, StateWatchCommandsSuspended, StateDisposed},
	StateWatchCommandsRunning:   {StateReady, StateWatchCommandsRunning, StateWatchCommandsSuspended, StateDisposed},
	StateWatchCommandsSuspended: {StateReady, StateWatchCommandsRunning, StateDisposed},
}

// CanTransition reports whether moving from s to to is legal.
func (s State) CanTransition(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// next validates a move and returns the new state.
func next(from, to State) (State, error) {
	if !from.CanTransition(to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}
