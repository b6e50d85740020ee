// Package resource manages the runtime side of each discovered asset:
// its declaration metadata, the watch and build commands it declares, and
// restart decisions on file changes.
//
// A Runtime never holds a reference to the project that owns it. It talks
// back through the narrow Host and ConfigSource interfaces.
package resource

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/dshills/assetsync/internal/concurrency"
	"github.com/dshills/assetsync/internal/integration/process"
	"github.com/dshills/assetsync/internal/logging"
	"github.com/dshills/assetsync/internal/metrics"
	"github.com/dshills/assetsync/internal/project/manifest"
	"github.com/dshills/assetsync/internal/project/scanner"
	"github.com/dshills/assetsync/internal/project/vfs"
	"github.com/dshills/assetsync/internal/resource/declaration"
)

// Host is what a runtime may ask of its owner.
type Host interface {
	// RestartResource asks the server to restart the resource.
	RestartResource(name string)

	// ReloadResource asks the server to reload the resource definition.
	ReloadResource(name string)

	// ResourceStatus publishes the resource's watch command status.
	ResourceStatus(name string, status Status)

	// Notify reports a non-fatal error to the user.
	Notify(err error)
}

// ConfigSource provides the current configuration of a resource.
type ConfigSource interface {
	ResourceConfig(name string) manifest.ResourceConfig
}

// WatchCommandStatus is the published state of one watch command.
type WatchCommandStatus struct {
	OutputChannelID string `json:"outputChannelId"`
	Running         bool   `json:"running"`
}

// Status is the published state of a resource.
type Status struct {
	WatchCommands map[string]WatchCommandStatus `json:"watchCommands"`
}

// Runtime is the lifecycle manager of one asset.
type Runtime struct {
	name string
	path string

	config   ConfigSource
	host     Host
	spawner  process.Spawner
	provider declaration.Provider
	vfs      vfs.VFS
	logger   *zap.Logger

	sequentialBuild bool

	// ops serializes lifecycle operations that start or stop commands.
	ops concurrency.Lock

	// mu guards the fields below. Process hooks take only mu.
	mu         sync.Mutex
	state      State
	declPath   string
	meta       *declaration.Metadata
	metaLoaded bool
	patterns   []string
	running    map[string]*watchCommand
	status     map[string]WatchCommandStatus
	building   bool
	// cancelBuild stops the build in progress, if any.
	cancelBuild context.CancelFunc
	// disposing is set once Dispose starts; nothing may start commands after.
	disposing bool
}

type watchCommand struct {
	cmd    declaration.Command
	handle process.Handle
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithSpawner sets the command spawner.
func WithSpawner(s process.Spawner) Option {
	return func(r *Runtime) {
		r.spawner = s
	}
}

// WithProvider sets the declaration metadata provider.
func WithProvider(p declaration.Provider) Option {
	return func(r *Runtime) {
		r.provider = p
	}
}

// WithVFS sets the file system.
func WithVFS(v vfs.VFS) Option {
	return func(r *Runtime) {
		r.vfs = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithSequentialBuild runs build commands one after another, stopping at
// the first failure, instead of concurrently.
func WithSequentialBuild() Option {
	return func(r *Runtime) {
		r.sequentialBuild = true
	}
}

// New creates an uninitialized runtime for the asset directory path.
func New(name, path string, config ConfigSource, host Host, opts ...Option) *Runtime {
	r := &Runtime{
		name:    name,
		path:    path,
		config:  config,
		host:    host,
		running: make(map[string]*watchCommand),
		status:  make(map[string]WatchCommandStatus),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.vfs == nil {
		r.vfs = vfs.NewOSFS()
	}
	if r.provider == nil {
		r.provider = declaration.NewLoader(r.vfs)
	}
	if r.spawner == nil {
		r.spawner = process.NewSupervisor()
	}
	r.logger = logging.OrDefault(r.logger, "resource").With(zap.String("resource", name))
	return r
}

// Name returns the asset name.
func (r *Runtime) Name() string { return r.name }

// Path returns the asset directory.
func (r *Runtime) Path() string { return r.path }

// State returns the lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// DeclarationPath returns the located declaration file, or "".
func (r *Runtime) DeclarationPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.declPath
}

// Metadata returns the loaded declaration metadata, or nil.
func (r *Runtime) Metadata() *declaration.Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// RestartPatterns returns the restart-inducing glob patterns.
func (r *Runtime) RestartPatterns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.patterns...)
}

// Building reports whether a build is in progress.
func (r *Runtime) Building() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.building
}

// Status returns a copy of the published status.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Runtime) statusLocked() Status {
	s := Status{WatchCommands: make(map[string]WatchCommandStatus, len(r.status))}
	for k, v := range r.status {
		s.WatchCommands[k] = v
	}
	return s
}

func (r *Runtime) publish() {
	r.mu.Lock()
	s := r.statusLocked()
	r.mu.Unlock()
	r.host.ResourceStatus(r.name, s)
}

func (r *Runtime) setState(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := next(r.state, to)
	if err != nil {
		return err
	}
	if s != r.state {
		r.logger.Debug("state change", zap.Stringer("from", r.state), zap.Stringer("to", s))
	}
	r.state = s
	return nil
}

// Init locates and loads the declaration, then starts watch commands if
// the configuration asks for them. Metadata failures are logged and leave
// the runtime without restart patterns.
func (r *Runtime) Init(ctx context.Context) error {
	if err := r.ops.LockContext(ctx); err != nil {
		return err
	}
	defer r.ops.Unlock()

	if r.State() != StateUninitialized {
		return &TransitionError{From: r.State(), To: StateReady}
	}

	r.loadMetadata(ctx)
	if err := r.setState(StateReady); err != nil {
		return err
	}
	r.logger.Info("resource initialized", zap.String("path", r.path))
	return r.ensureLocked(ctx)
}

// loadMetadata locates the declaration and asks the provider for it.
func (r *Runtime) loadMetadata(ctx context.Context) {
	declPath, err := declaration.Locate(r.vfs, r.path)
	if err != nil {
		r.logger.Warn("no declaration file", zap.String("path", r.path))
		r.setMetadata("", nil)
		return
	}

	meta, err := r.provider.Load(ctx, declPath)
	if err != nil {
		r.logger.Warn("load declaration failed", zap.String("path", declPath), zap.Error(err))
		r.setMetadata(declPath, nil)
		return
	}
	r.setMetadata(declPath, meta)
	r.logger.Debug("declaration loaded",
		zap.String("path", declPath),
		zap.Int("scripts", len(meta.Scripts())),
		zap.Int("watch_commands", len(meta.WatchCommands)),
		zap.Int("build_commands", len(meta.BuildCommands)))
}

func (r *Runtime) setMetadata(declPath string, meta *declaration.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declPath = declPath
	r.meta = meta
	r.metaLoaded = meta != nil
	r.patterns = restartPatterns(r.path, meta)
}

// restartPatterns derives one case-folded slash glob per declared script.
// Scripts referencing other resources (@name/...) are skipped.
func restartPatterns(dir string, meta *declaration.Metadata) []string {
	if meta == nil {
		return nil
	}
	base := strings.ToLower(escapeGlob(filepath.ToSlash(dir)))
	var out []string
	for _, script := range meta.Scripts() {
		if script == "" || strings.HasPrefix(script, "@") {
			continue
		}
		script = strings.TrimPrefix(filepath.ToSlash(script), "./")
		pattern := base + "/" + strings.ToLower(script)
		if doublestar.ValidatePattern(pattern) {
			out = append(out, pattern)
		}
	}
	return out
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// MatchesRestartPattern reports whether path matches a declared script.
func (r *Runtime) MatchesRestartPattern(path string) bool {
	r.mu.Lock()
	patterns := r.patterns
	r.mu.Unlock()

	subject := strings.ToLower(filepath.ToSlash(path))
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, subject); ok {
			return true
		}
	}
	return false
}

// AcceptFsEntryUpdate evaluates a file change below the asset directory.
// A change to the declaration file reloads metadata and asks the host to
// reload the resource. Any other change matching a restart pattern of an
// enabled resource with restartOnChange asks the host to restart it.
func (r *Runtime) AcceptFsEntryUpdate(ctx context.Context, path string) error {
	if r.State() == StateDisposed {
		return nil
	}

	if filepath.Dir(path) == r.path && declaration.IsDeclarationFile(filepath.Base(path)) {
		return r.reload(ctx)
	}

	r.mu.Lock()
	loaded := r.metaLoaded
	r.mu.Unlock()
	if !loaded {
		return nil
	}

	cfg := r.config.ResourceConfig(r.name)
	if !cfg.Enabled || !cfg.RestartOnChange {
		return nil
	}
	if !r.MatchesRestartPattern(path) {
		return nil
	}

	r.logger.Info("restart-inducing change", zap.String("path", path))
	metrics.RecordRestartRequest()
	r.host.RestartResource(r.name)
	return nil
}

// reload re-reads the declaration and re-evaluates watch commands.
func (r *Runtime) reload(ctx context.Context) error {
	if err := r.ops.LockContext(ctx); err != nil {
		return err
	}
	defer r.ops.Unlock()

	if r.State() == StateDisposed {
		return nil
	}

	r.logger.Info("reloading declaration")
	r.loadMetadata(ctx)
	r.host.ReloadResource(r.name)
	return r.ensureLocked(ctx)
}

// OnConfigChanged re-evaluates watch commands after a config change.
func (r *Runtime) OnConfigChanged(ctx context.Context) error {
	return r.EnsureWatchCommandsRunning(ctx)
}

// DeployablePaths lists every non-hidden file under the asset directory
// plus the declaration file, sorted.
func (r *Runtime) DeployablePaths(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var walk func(dir string) error
	walk = func(dir string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := r.vfs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if scanner.IsHidden(e.Name()) {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if e.IsDir() {
				if err := walk(p); err != nil {
					return err
				}
				continue
			}
			seen[p] = true
		}
		return nil
	}
	if err := walk(r.path); err != nil {
		return nil, err
	}
	if decl := r.DeclarationPath(); decl != "" {
		seen[decl] = true
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Dispose stops all watch commands, terminates a build in progress and
// releases status. It waits for the subprocesses to exit, bounded by ctx.
// It is idempotent.
func (r *Runtime) Dispose(ctx context.Context) error {
	r.mu.Lock()
	r.disposing = true
	cancel := r.cancelBuild
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := r.ops.LockContext(ctx); err != nil {
		return err
	}
	defer r.ops.Unlock()

	if r.State() == StateDisposed {
		return nil
	}

	r.stopAll(ctx)

	r.mu.Lock()
	r.status = make(map[string]WatchCommandStatus)
	r.mu.Unlock()

	if err := r.setState(StateDisposed); err != nil {
		return err
	}
	r.logger.Info("resource disposed")
	return nil
}
