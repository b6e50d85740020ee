package resource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/assetsync/internal/integration/process"
	"github.com/dshills/assetsync/internal/metrics"
	"github.com/dshills/assetsync/internal/resource/declaration"
)

// CommandHash identifies a declared command by its name and arguments.
func CommandHash(cmd declaration.Command) string {
	data, _ := json.Marshal([]any{cmd.Command, cmd.Args})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// EnsureWatchCommandsRunning aligns the running watch commands with the
// declared ones. With the resource disabled or restartOnChange off, every
// watch command is stopped. Otherwise commands no longer declared are
// stopped and newly declared ones started; unchanged ones are left alone.
// While suspended this is a no-op.
func (r *Runtime) EnsureWatchCommandsRunning(ctx context.Context) error {
	if err := r.ops.LockContext(ctx); err != nil {
		return err
	}
	defer r.ops.Unlock()
	return r.ensureLocked(ctx)
}

func (r *Runtime) ensureLocked(ctx context.Context) error {
	switch r.State() {
	case StateDisposed:
		return ErrDisposed
	case StateUninitialized:
		return &TransitionError{From: StateUninitialized, To: StateWatchCommandsRunning}
	case StateWatchCommandsSuspended:
		return nil
	}
	if r.isDisposing() {
		return ErrDisposed
	}

	cfg := r.config.ResourceConfig(r.name)
	if !cfg.Enabled || !cfg.RestartOnChange {
		r.stopAll(ctx)
		r.publish()
		return r.setState(StateReady)
	}

	desired := make(map[string]declaration.Command)
	r.mu.Lock()
	if r.meta != nil {
		for _, cmd := range r.meta.WatchCommands {
			desired[CommandHash(cmd)] = cmd
		}
	}
	var stale []*watchCommand
	for hash, wc := range r.running {
		if _, ok := desired[hash]; !ok {
			stale = append(stale, wc)
			delete(r.running, hash)
			delete(r.status, hash)
		}
	}
	var fresh []string
	for hash := range desired {
		if _, ok := r.running[hash]; !ok {
			fresh = append(fresh, hash)
		}
	}
	r.mu.Unlock()

	r.stopCommands(ctx, stale)

	for _, hash := range fresh {
		r.startWatchCommand(ctx, hash, desired[hash])
	}

	r.publish()

	r.mu.Lock()
	n := len(r.running)
	r.mu.Unlock()
	if n > 0 {
		return r.setState(StateWatchCommandsRunning)
	}
	return r.setState(StateReady)
}

// startWatchCommand spawns one watch command. A failure is reported to the
// host and recorded as not running; it does not affect other commands.
func (r *Runtime) startWatchCommand(ctx context.Context, hash string, cmd declaration.Command) {
	var h process.Handle
	mine := make(chan struct{})

	hooks := process.Hooks{
		OnClose: func(code int) {
			<-mine
			metrics.WatchCommandStopped()
			r.mu.Lock()
			if wc, ok := r.running[hash]; ok && wc.handle == h {
				delete(r.running, hash)
				st := r.status[hash]
				st.Running = false
				r.status[hash] = st
				if len(r.running) == 0 && r.state == StateWatchCommandsRunning {
					r.state = StateReady
				}
			}
			r.mu.Unlock()
			r.logger.Info("watch command exited", zap.String("command", cmd.Command), zap.Int("exit_code", code))
			r.publish()
		},
		OnError: func(err error) {
			r.host.Notify(&WatchCommandError{Resource: r.name, Hash: hash, Command: cmd.Command, Err: err})
		},
	}

	handle, err := r.spawner.Spawn(ctx, process.Spec{
		Name:    r.name + ":watch",
		Command: cmd.Command,
		Args:    cmd.Args,
		Dir:     r.path,
	}, hooks)
	if err != nil {
		close(mine)
		r.logger.Error("watch command failed to start", zap.String("command", cmd.Command), zap.Error(err))
		r.mu.Lock()
		r.status[hash] = WatchCommandStatus{Running: false}
		r.mu.Unlock()
		r.host.Notify(&WatchCommandError{Resource: r.name, Hash: hash, Command: cmd.Command, Err: err})
		return
	}
	h = handle
	metrics.WatchCommandStarted()

	r.mu.Lock()
	r.running[hash] = &watchCommand{cmd: cmd, handle: handle}
	r.status[hash] = WatchCommandStatus{OutputChannelID: handle.OutputChannelID(), Running: true}
	r.mu.Unlock()
	close(mine)

	r.logger.Info("watch command started",
		zap.String("command", cmd.Command),
		zap.Strings("args", cmd.Args),
		zap.String("output", handle.OutputChannelID()))
}

// stopCommands stops the given commands concurrently and waits for all.
func (r *Runtime) stopCommands(ctx context.Context, cmds []*watchCommand) {
	var g errgroup.Group
	for _, wc := range cmds {
		g.Go(func() error {
			if err := wc.handle.Stop(ctx); err != nil {
				r.logger.Warn("stop watch command failed", zap.String("command", wc.cmd.Command), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// stopAll stops every running watch command. Their status entries remain,
// marked not running.
func (r *Runtime) stopAll(ctx context.Context) {
	r.mu.Lock()
	cmds := make([]*watchCommand, 0, len(r.running))
	for hash, wc := range r.running {
		cmds = append(cmds, wc)
		delete(r.running, hash)
		st := r.status[hash]
		st.Running = false
		r.status[hash] = st
	}
	r.mu.Unlock()

	r.stopCommands(ctx, cmds)
}

// SuspendWatchCommands stops watch commands until ResumeWatchCommands.
// Suspending twice is a no-op.
func (r *Runtime) SuspendWatchCommands(ctx context.Context) error {
	if err := r.ops.LockContext(ctx); err != nil {
		return err
	}
	defer r.ops.Unlock()
	return r.suspendLocked(ctx)
}

func (r *Runtime) suspendLocked(ctx context.Context) error {
	switch r.State() {
	case StateWatchCommandsSuspended:
		return nil
	case StateDisposed:
		return ErrDisposed
	}
	if err := r.setState(StateWatchCommandsSuspended); err != nil {
		return err
	}
	r.logger.Debug("suspending watch commands")
	r.stopAll(ctx)
	r.publish()
	return nil
}

// ResumeWatchCommands restarts watch commands after a suspension.
// Resuming when not suspended is a no-op.
func (r *Runtime) ResumeWatchCommands(ctx context.Context) error {
	if err := r.ops.LockContext(ctx); err != nil {
		return err
	}
	defer r.ops.Unlock()
	return r.resumeLocked(ctx)
}

func (r *Runtime) resumeLocked(ctx context.Context) error {
	if r.State() != StateWatchCommandsSuspended || r.isDisposing() {
		return nil
	}
	if err := r.setState(StateReady); err != nil {
		return err
	}
	r.logger.Debug("resuming watch commands")
	return r.ensureLocked(ctx)
}

// Build runs every declared build command with watch commands suspended.
// Watch commands are resumed exactly once after all build commands have
// settled, whatever the outcome. The first failing command is returned as
// a *BuildCommandError.
func (r *Runtime) Build(ctx context.Context) (err error) {
	if err := r.ops.LockContext(ctx); err != nil {
		return err
	}
	defer r.ops.Unlock()

	if err := r.suspendLocked(ctx); err != nil {
		return err
	}

	buildCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.disposing {
		r.mu.Unlock()
		cancel()
		return ErrDisposed
	}
	r.building = true
	r.cancelBuild = cancel
	var cmds []declaration.Command
	if r.meta != nil {
		cmds = append(cmds, r.meta.BuildCommands...)
	}
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.building = false
		r.cancelBuild = nil
		r.mu.Unlock()
		if rerr := r.resumeLocked(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = rerr
		}
	}()

	if len(cmds) == 0 {
		return nil
	}
	r.logger.Info("building resource", zap.Int("commands", len(cmds)))

	if r.sequentialBuild {
		for _, cmd := range cmds {
			if err := r.runBuildCommand(buildCtx, cmd); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	for _, cmd := range cmds {
		g.Go(func() error {
			return r.runBuildCommand(buildCtx, cmd)
		})
	}
	return g.Wait()
}

func (r *Runtime) isDisposing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposing
}

func (r *Runtime) runBuildCommand(ctx context.Context, cmd declaration.Command) (err error) {
	defer func() { metrics.RecordBuildCommand(err) }()

	h, err := r.spawner.Spawn(ctx, process.Spec{
		Name:    r.name + ":build",
		Command: cmd.Command,
		Args:    cmd.Args,
		Dir:     r.path,
	}, process.Hooks{})
	if err != nil {
		return &BuildCommandError{Resource: r.name, Command: cmd.Command, ExitCode: -1, Err: err}
	}

	code, err := h.Wait(ctx)
	if err != nil {
		_ = h.Stop(context.WithoutCancel(ctx))
		return &BuildCommandError{
			Resource:        r.name,
			Command:         cmd.Command,
			OutputChannelID: h.OutputChannelID(),
			ExitCode:        -1,
			Err:             err,
		}
	}
	if code != 0 {
		r.logger.Warn("build command failed",
			zap.String("command", cmd.Command),
			zap.Int("exit_code", code),
			zap.String("output", h.OutputChannelID()))
		return &BuildCommandError{
			Resource:        r.name,
			Command:         cmd.Command,
			OutputChannelID: h.OutputChannelID(),
			ExitCode:        code,
		}
	}
	return nil
}
