package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/assetsync/internal/integration/output"
	"github.com/dshills/assetsync/internal/logging"
)

// Spec describes a command to spawn.
type Spec struct {
	// Name labels the process and its output channel.
	Name string

	// Command is the executable.
	Command string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is appended to the current environment.
	Env []string
}

// Handle is a running command as seen by callers of Spawner.
type Handle interface {
	// OutputChannelID identifies where the command's output is kept.
	OutputChannelID() string

	// Done is closed once the command exits.
	Done() <-chan struct{}

	// ExitCode returns the exit code, or -1 while running.
	ExitCode() int

	// Wait blocks until exit or ctx ends.
	Wait(ctx context.Context) (int, error)

	// Stop terminates the command and waits for it to exit.
	Stop(ctx context.Context) error
}

// Spawner starts commands.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec, hooks Hooks) (Handle, error)
}

// Supervisor manages child processes with lifecycle tracking and cleanup.
// It is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	shutdown chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	maxProcesses int
	stopTimeout  time.Duration
	outputs      *output.Registry
	logger       *zap.Logger

	onProcessExit func(p *Process)
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses sets the maximum number of concurrent processes.
// A value of 0 (default) means unlimited.
func WithMaxProcesses(max int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithStopTimeout sets the grace period between SIGTERM and SIGKILL.
func WithStopTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.stopTimeout = d
	}
}

// WithOutputRegistry captures process output into channels of reg.
func WithOutputRegistry(reg *output.Registry) SupervisorOption {
	return func(s *Supervisor) {
		s.outputs = reg
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithProcessExitCallback sets a callback for when processes exit.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes:   make(map[string]*Process),
		shutdown:    make(chan struct{}),
		stopTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger, "process")
	return s
}

// Spawn starts spec and returns its handle.
func (s *Supervisor) Spawn(_ context.Context, spec Spec, hooks Hooks) (Handle, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Bounds how long Wait waits on output held open by grandchildren.
	cmd.WaitDelay = s.stopTimeout

	proc, err := s.Start(spec.Name, cmd, hooks)
	if err != nil {
		return nil, err
	}
	return &handle{proc: proc, grace: s.stopTimeout}, nil
}

// Start starts cmd as a managed process.
// Returns ErrSupervisorShutdown if the supervisor is shutting down.
func (s *Supervisor) Start(name string, cmd *exec.Cmd, hooks Hooks) (*Process, error) {
	return s.StartWithID(uuid.NewString(), name, cmd, hooks)
}

// StartWithID starts cmd as a managed process with a specific ID.
func (s *Supervisor) StartWithID(id, name string, cmd *exec.Cmd, hooks Hooks) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}
	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	var ch *output.Channel
	if s.outputs != nil {
		ch = s.outputs.Open(name)
	}
	proc := NewProcess(id, name, cmd, ch, hooks)

	if err := proc.start(); err != nil {
		if ch != nil {
			ch.Append(output.Stderr, err.Error())
		}
		return nil, err
	}

	s.processes[id] = proc
	s.logger.Debug("process started",
		zap.String("id", id),
		zap.String("name", name),
		zap.Int("pid", proc.PID()),
		zap.String("output", proc.OutputChannelID()))

	s.wg.Add(1)
	go s.monitorProcess(proc)

	return proc, nil
}

// monitorProcess watches for process exit and cleans up.
func (s *Supervisor) monitorProcess(proc *Process) {
	defer s.wg.Done()
	<-proc.Done()

	s.logger.Debug("process exited",
		zap.String("id", proc.ID),
		zap.String("name", proc.Name),
		zap.Int("exit_code", proc.ExitCode()))

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("process exit callback panicked", zap.Any("panic", r))
				}
			}()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a process by ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all managed processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of managed processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Stop terminates a process by ID, killing it after the stop timeout.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}
	return proc.Stop(ctx, s.stopTimeout)
}

// Shutdown stops every process: SIGTERM first, SIGKILL for those still
// running after the stop timeout. It blocks until all have exited and been
// removed.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if s.closed.Swap(true) {
		return
	}
	close(s.shutdown)

	var wg sync.WaitGroup
	for _, p := range s.List() {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			if err := p.Stop(ctx, s.stopTimeout); err != nil {
				s.logger.Warn("stop process failed", zap.String("name", p.Name), zap.Error(err))
			}
		}(p)
	}
	wg.Wait()
	s.wg.Wait()
}

// IsShuttingDown returns true if the supervisor is shutting down.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// ShutdownChan returns a channel that is closed when shutdown begins.
func (s *Supervisor) ShutdownChan() <-chan struct{} {
	return s.shutdown
}

// handle adapts a Process to Handle.
type handle struct {
	proc  *Process
	grace time.Duration
}

func (h *handle) OutputChannelID() string { return h.proc.OutputChannelID() }

func (h *handle) Done() <-chan struct{} { return h.proc.Done() }

func (h *handle) ExitCode() int { return h.proc.ExitCode() }

func (h *handle) Wait(ctx context.Context) (int, error) { return h.proc.Wait(ctx) }

func (h *handle) Stop(ctx context.Context) error { return h.proc.Stop(ctx, h.grace) }

// Sentinel errors.
var (
	// ErrProcessNotFound is returned when a process ID is not found.
	ErrProcessNotFound = errors.New("process not found")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrProcessLimit is returned when the process limit is reached.
	ErrProcessLimit = errors.New("process limit reached")
)

var _ Spawner = (*Supervisor)(nil)
