package resource

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned by operations on a disposed runtime.
var ErrDisposed = errors.New("resource runtime disposed")

// TransitionError is an illegal lifecycle move.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal resource state transition %s -> %s", e.From, e.To)
}

// BuildCommandError is a build command that failed to run or exited
// non-zero. OutputChannelID identifies the captured output.
type BuildCommandError struct {
	Resource        string
	Command         string
	OutputChannelID string
	ExitCode        int
	Err             error
}

func (e *BuildCommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resource %s: build command %q failed: %v", e.Resource, e.Command, e.Err)
	}
	return fmt.Sprintf("resource %s: build command %q exited with code %d (output %s)",
		e.Resource, e.Command, e.ExitCode, e.OutputChannelID)
}

func (e *BuildCommandError) Unwrap() error {
	return e.Err
}

// WatchCommandError is a watch command that failed to start or crashed.
type WatchCommandError struct {
	Resource string
	Hash     string
	Command  string
	Err      error
}

func (e *WatchCommandError) Error() string {
	return fmt.Sprintf("resource %s: watch command %q: %v", e.Resource, e.Command, e.Err)
}

func (e *WatchCommandError) Unwrap() error {
	return e.Err
}
