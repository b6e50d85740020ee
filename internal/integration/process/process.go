package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dshills/assetsync/internal/integration/output"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited normally or with an error.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Hooks are optional callbacks for a spawned process.
type Hooks struct {
	// OnClose is called once after the process exits, with its exit code.
	OnClose func(exitCode int)

	// OnError is called when the process fails on its own: a wait error or
	// a non-zero exit that was not requested through Stop.
	OnError func(err error)
}

// Process is a managed child process whose output goes to an output
// channel. It is safe for concurrent use.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a human-readable name for the process.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Started is the time the process was started.
	Started time.Time

	channel *output.Channel
	stdout  *output.LineWriter
	stderr  *output.LineWriter
	hooks   Hooks

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32
	stopping atomic.Bool

	mu      sync.RWMutex
	exitErr error

	waitOnce sync.Once
}

// NewProcess creates a Process wrapping cmd. When ch is non-nil, stdout and
// stderr are captured into it.
func NewProcess(id, name string, cmd *exec.Cmd, ch *output.Channel, hooks Hooks) *Process {
	p := &Process{
		ID:      id,
		Name:    name,
		Cmd:     cmd,
		channel: ch,
		hooks:   hooks,
		done:    make(chan struct{}),
	}
	if ch != nil {
		p.stdout = ch.Writer(output.Stdout)
		p.stderr = ch.Writer(output.Stderr)
		cmd.Stdout = p.stdout
		cmd.Stderr = p.stderr
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// OutputChannelID returns the id of the channel capturing output, or "".
func (p *Process) OutputChannelID() string {
	if p.channel == nil {
		return ""
	}
	return p.channel.ID()
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the process exit code, or -1 if it has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true if the process has exited (normally or killed).
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal sends a signal to the process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	return p.Cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	return p.Cmd.Process.Kill()
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Stop asks the process to terminate and waits for it to exit. If it is
// still running after grace, or ctx ends first, it is killed. Stop on an
// exited process returns nil.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	if p.HasExited() {
		return nil
	}
	p.stopping.Store(true)

	if err := p.Terminate(); err != nil && !errors.Is(err, ErrProcessNotStarted) {
		// Platforms without SIGTERM go straight to kill.
		_ = p.Kill()
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := p.Kill(); err != nil && !errors.Is(err, ErrProcessNotStarted) && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", p.Name, err)
	}
	<-p.done
	return nil
}

// Wait blocks until the process exits or ctx ends, returning the exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.ExitCode(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// start starts the process and begins tracking it.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	go p.waitLoop()

	return nil
}

// waitLoop waits for the process to exit and updates state.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()
		if p.stdout != nil {
			p.stdout.Flush()
			p.stderr.Flush()
		}

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited

		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				state = StateKilled
			}
		default:
			exitCode = -1
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		close(p.done)

		if err != nil && !p.stopping.Load() && p.hooks.OnError != nil {
			p.hooks.OnError(fmt.Errorf("%s: %w", p.Name, err))
		}
		if p.hooks.OnClose != nil {
			p.hooks.OnClose(exitCode)
		}
	})
}

// Runtime returns how long the process has been running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}

// Sentinel errors for process package.
var (
	// ErrProcessNotStarted is returned when operations require a running process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when trying to start an already running process.
	ErrProcessAlreadyStarted = errors.New("process already started")
)
