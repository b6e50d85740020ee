package project

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/assetsync/internal/concurrency"
	"github.com/dshills/assetsync/internal/integration/output"
	"github.com/dshills/assetsync/internal/integration/process"
	"github.com/dshills/assetsync/internal/logging"
	"github.com/dshills/assetsync/internal/project/fstree"
	"github.com/dshills/assetsync/internal/project/manifest"
	"github.com/dshills/assetsync/internal/project/scanner"
	"github.com/dshills/assetsync/internal/project/vfs"
	"github.com/dshills/assetsync/internal/project/watcher"
	"github.com/dshills/assetsync/internal/resource"
	"github.com/dshills/assetsync/internal/resource/declaration"
)

// StorageDir is the per-project directory for tool state.
const StorageDir = ".fxdk"

// Config holds project configuration.
type Config struct {
	// WatchDebounce coalesces structural file system events into one
	// rescan.
	WatchDebounce time.Duration

	// PersistDelay debounces manifest writes from setters.
	PersistDelay time.Duration

	// IgnorePatterns are gitignore-style patterns excluded from both the
	// tree and the watcher. Dot-prefixed names are always excluded.
	IgnorePatterns []string

	// MetadataTimeout bounds evaluation of one declaration file.
	MetadataTimeout time.Duration

	// StopTimeout is the grace period before a stopped command is killed.
	StopTimeout time.Duration

	// MaxOutputChannels bounds the number of retained output channels.
	MaxOutputChannels int

	// OutputLines is the number of lines retained per output channel.
	OutputLines int

	// SequentialBuild runs a resource's build commands one at a time.
	SequentialBuild bool
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		WatchDebounce:     50 * time.Millisecond,
		PersistDelay:      100 * time.Millisecond,
		MetadataTimeout:   5 * time.Second,
		StopTimeout:       5 * time.Second,
		MaxOutputChannels: 64,
		OutputLines:       1000,
	}
}

// Option configures a Project.
type Option func(*Project)

// WithConfig sets the project configuration.
func WithConfig(cfg Config) Option {
	return func(p *Project) {
		p.config = cfg
	}
}

// WithVFS sets a custom VFS implementation.
func WithVFS(v vfs.VFS) Option {
	return func(p *Project) {
		p.vfs = v
	}
}

// WithWatcher sets a custom watcher implementation. The project closes it
// on Close.
func WithWatcher(w watcher.Watcher) Option {
	return func(p *Project) {
		p.watcher = w
	}
}

// WithClient sets the consumer of project updates.
func WithClient(c Client) Option {
	return func(p *Project) {
		p.client = c
	}
}

// WithServerControl sets the runtime server collaborator.
func WithServerControl(s ServerControl) Option {
	return func(p *Project) {
		p.server = s
	}
}

// WithSpawner sets the command spawner shared by all resources.
func WithSpawner(s process.Spawner) Option {
	return func(p *Project) {
		p.spawner = s
	}
}

// WithDeclarationProvider sets the declaration metadata provider.
func WithDeclarationProvider(d declaration.Provider) Option {
	return func(p *Project) {
		p.provider = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Project) {
		p.logger = l
	}
}

// Project is an open project session. It owns the tree store, the manifest
// manager, the change watcher and one resource runtime per discovered
// resource directory.
type Project struct {
	path   string
	config Config

	vfs      vfs.VFS
	scanner  *scanner.Scanner
	store    *fstree.Store
	manifest *manifest.Manager
	watcher  watcher.Watcher
	outputs  *output.Registry
	spawner  process.Spawner
	provider declaration.Provider
	client   Client
	server   ServerControl
	logger   *zap.Logger

	// supervisor is set when the project created its own spawner.
	supervisor *process.Supervisor

	rescan *concurrency.Trigger

	// Goroutine lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// refreshMu serializes scan, tree commit, reconcile and runtime sync.
	refreshMu sync.Mutex

	mu       sync.RWMutex
	runtimes map[string]*resource.Runtime
	closed   bool
}

// Open opens the project at path: it loads the manifest, scans the tree,
// reconciles resources, creates their runtimes and starts watching.
func Open(ctx context.Context, path string, opts ...Option) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, NewPathError("open", path, err)
	}

	p := &Project{
		path:     abs,
		config:   DefaultConfig(),
		store:    fstree.NewStore(),
		runtimes: make(map[string]*resource.Runtime),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.applyDefaults()

	info, err := p.vfs.Stat(abs)
	if err != nil {
		return nil, NewPathError("open", abs, err)
	}
	if !info.IsDir() {
		return nil, NewPathError("open", abs, ErrNotDirectory)
	}

	ignore, err := p.ignorePredicate()
	if err != nil {
		return nil, NewPathError("open", abs, err)
	}

	if err := p.setupSpawner(); err != nil {
		return nil, err
	}

	p.manifest, err = manifest.Load(p.vfs, filepath.Join(abs, manifest.Filename),
		manifest.WithListener(&manifestListener{p: p}),
		manifest.WithPersistDelay(p.config.PersistDelay),
		manifest.WithResourceMetaKey(declaration.MetaKey),
		manifest.WithLogger(p.logger.Named("manifest")))
	if err != nil {
		p.shutdownSpawner(ctx)
		return nil, err
	}

	p.scanner = scanner.New(
		scanner.WithVFS(p.vfs),
		scanner.WithExtractor(declaration.MetaKey, declaration.Extractor(p.vfs)),
		scanner.WithIgnore(ignore),
		scanner.WithLogger(p.logger.Named("scanner")))

	// Independent of the caller's context; goroutines run until Close.
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.rescan = concurrency.NewTrigger(p.rescanNow, p.config.WatchDebounce)

	if err := p.startWatching(); err != nil {
		p.logger.Warn("file watching unavailable", zap.Error(err))
	}

	if err := p.refresh(ctx); err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	p.server.SetEnabledResources(p.path, p.manifest.EnabledPaths())

	p.logger.Info("project opened",
		zap.String("path", p.path),
		zap.Int("resources", len(p.Runtimes())))
	return p, nil
}

// Create initializes a project named name in dir and opens it.
// It fails with ErrAlreadyExists if dir already holds a project.
func Create(ctx context.Context, dir, name string, opts ...Option) (*Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, NewPathError("create", dir, err)
	}

	probe := &Project{config: DefaultConfig()}
	for _, opt := range opts {
		opt(probe)
	}
	probe.applyDefaults()
	v := probe.vfs

	manifestPath := filepath.Join(abs, manifest.Filename)
	if vfs.Exists(v, manifestPath) {
		return nil, NewPathError("create", manifestPath, ErrAlreadyExists)
	}
	if err := v.MkdirAll(filepath.Join(abs, StorageDir), 0o755); err != nil {
		return nil, NewPathError("create", abs, err)
	}
	if _, err := manifest.Create(v, manifestPath, name); err != nil {
		return nil, err
	}

	return Open(ctx, abs, opts...)
}

func (p *Project) applyDefaults() {
	def := DefaultConfig()
	if p.config.WatchDebounce <= 0 {
		p.config.WatchDebounce = def.WatchDebounce
	}
	if p.config.PersistDelay <= 0 {
		p.config.PersistDelay = def.PersistDelay
	}
	if p.config.MetadataTimeout <= 0 {
		p.config.MetadataTimeout = def.MetadataTimeout
	}
	if p.config.StopTimeout <= 0 {
		p.config.StopTimeout = def.StopTimeout
	}
	if p.config.MaxOutputChannels <= 0 {
		p.config.MaxOutputChannels = def.MaxOutputChannels
	}
	if p.config.OutputLines <= 0 {
		p.config.OutputLines = def.OutputLines
	}
	if p.vfs == nil {
		p.vfs = vfs.NewOSFS()
	}
	if p.client == nil {
		p.client = NopClient{}
	}
	if p.server == nil {
		p.server = nopServer{}
	}
	if p.provider == nil {
		p.provider = declaration.NewLoader(p.vfs, declaration.WithTimeout(p.config.MetadataTimeout))
	}
	p.logger = logging.OrDefault(p.logger, "project")
}

func (p *Project) setupSpawner() error {
	reg, err := output.NewRegistry(p.config.MaxOutputChannels,
		output.WithLinesPerChannel(p.config.OutputLines),
		output.WithLogger(p.logger.Named("output")))
	if err != nil {
		return err
	}
	p.outputs = reg

	if p.spawner == nil {
		p.supervisor = process.NewSupervisor(
			process.WithOutputRegistry(reg),
			process.WithStopTimeout(p.config.StopTimeout),
			process.WithLogger(p.logger.Named("process")))
		p.spawner = p.supervisor
	}
	return nil
}

func (p *Project) shutdownSpawner(ctx context.Context) {
	if p.supervisor != nil {
		p.supervisor.Shutdown(ctx)
	}
}

// ignorePredicate builds the scanner ignore function from the configured
// patterns.
func (p *Project) ignorePredicate() (scanner.IgnoreFunc, error) {
	if len(p.config.IgnorePatterns) == 0 {
		return nil, nil
	}
	patterns := watcher.NewIgnorePatterns()
	if err := patterns.AddPatterns(p.config.IgnorePatterns); err != nil {
		return nil, err
	}
	root := p.path
	return func(path string, isDir bool) bool {
		return patterns.MatchRelative(path, root, isDir)
	}, nil
}

// Path returns the project root.
func (p *Project) Path() string {
	return p.path
}

// Manifest returns the manifest manager.
func (p *Project) Manifest() *manifest.Manager {
	return p.manifest
}

// Tree returns the last committed tree.
func (p *Project) Tree() *fstree.Tree {
	return p.store.Get()
}

// Outputs returns the registry holding command output.
func (p *Project) Outputs() *output.Registry {
	return p.outputs
}

// IsOpen returns true until Close is called.
func (p *Project) IsOpen() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Contains reports whether path is the project root or below it.
func (p *Project) Contains(path string) bool {
	path = filepath.Clean(path)
	return path == p.path || strings.HasPrefix(path, p.path+string(filepath.Separator))
}

// ReadDir returns the immediate children of a project directory.
func (p *Project) ReadDir(ctx context.Context, path string) ([]scanner.Entry, error) {
	if !p.Contains(path) {
		return nil, NewPathError("readdir", path, ErrNotInProject)
	}
	entries, err := p.scanner.ReadDir(ctx, filepath.Clean(path))
	if err != nil {
		return nil, NewPathError("readdir", path, err)
	}
	return entries, nil
}

// ReadDirRecursive scans a project directory and everything below it.
func (p *Project) ReadDirRecursive(ctx context.Context, path string) (scanner.PathsMap, error) {
	if !p.Contains(path) {
		return nil, NewPathError("readdir", path, ErrNotInProject)
	}
	paths, err := p.scanner.Scan(ctx, path, nil)
	if err != nil {
		return nil, NewPathError("readdir", path, err)
	}
	return paths, nil
}

// Runtime returns the runtime of the named resource.
func (p *Project) Runtime(name string) (*resource.Runtime, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rt := range p.runtimes {
		if rt.Name() == name {
			return rt, true
		}
	}
	return nil, false
}

// Runtimes returns every resource runtime ordered by path.
func (p *Project) Runtimes() []*resource.Runtime {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*resource.Runtime, 0, len(p.runtimes))
	for _, rt := range p.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// BuildResource runs the build commands of the named resource.
func (p *Project) BuildResource(ctx context.Context, name string) error {
	rt, ok := p.Runtime(name)
	if !ok {
		return fmt.Errorf("%w: %s", manifest.ErrResourceNotFound, name)
	}
	return rt.Build(ctx)
}

// SetResourceConfig changes a resource's configuration. The resource's
// runtime re-evaluates its watch commands.
func (p *Project) SetResourceConfig(name string, patch manifest.ConfigPatch) (manifest.ResourceConfig, error) {
	return p.manifest.SetResourceConfig(name, patch)
}

// RenameResource renames a resource directory and moves its config.
func (p *Project) RenameResource(ctx context.Context, oldName, newName string) error {
	rt, ok := p.Runtime(oldName)
	if !ok {
		return fmt.Errorf("%w: %s", manifest.ErrResourceNotFound, oldName)
	}
	oldPath := rt.Path()
	newPath := filepath.Join(filepath.Dir(oldPath), newName)
	if vfs.Exists(p.vfs, newPath) {
		return NewPathError("rename", newPath, ErrAlreadyExists)
	}
	if err := p.manifest.RenameResource(ctx, oldName, newName); err != nil {
		return err
	}
	if err := p.vfs.Rename(oldPath, newPath); err != nil {
		return NewPathError("rename", oldPath, err)
	}
	p.rescan.Call()
	return nil
}

// DeleteResource removes a resource directory and its config.
func (p *Project) DeleteResource(ctx context.Context, name string) error {
	rt, ok := p.Runtime(name)
	if !ok {
		return fmt.Errorf("%w: %s", manifest.ErrResourceNotFound, name)
	}
	if err := rt.Dispose(ctx); err != nil {
		return err
	}
	if err := p.manifest.DeleteResource(ctx, name); err != nil {
		return err
	}
	if err := p.vfs.RemoveAll(rt.Path()); err != nil {
		return NewPathError("delete", rt.Path(), err)
	}
	p.rescan.Call()
	return nil
}

// WatcherStatus provides watcher status information.
type WatcherStatus struct {
	WatchedPaths  int
	PendingEvents int
	TotalEvents   int64
	Dropped       int64
	Errors        int64
	LastError     error
	StartTime     time.Time
}

// WatcherStatus returns the current watcher status.
func (p *Project) WatcherStatus() WatcherStatus {
	p.mu.RLock()
	w := p.watcher
	p.mu.RUnlock()

	if w == nil {
		return WatcherStatus{}
	}

	stats := w.Stats()
	return WatcherStatus{
		WatchedPaths:  stats.WatchedPaths,
		PendingEvents: stats.PendingEvents,
		TotalEvents:   stats.TotalEvents,
		Dropped:       stats.Dropped,
		Errors:        stats.Errors,
		LastError:     stats.LastError,
		StartTime:     stats.StartTime,
	}
}

// Close stops watching, disposes every runtime (waiting for their commands
// to exit) and flushes pending manifest writes.
func (p *Project) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrNotOpen
	}
	p.closed = true
	w := p.watcher
	p.watcher = nil
	runtimes := p.runtimes
	p.runtimes = make(map[string]*resource.Runtime)
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if p.rescan != nil {
		p.rescan.Stop()
	}

	// Closing the watcher closes its channels, which ends the event loop.
	if w != nil {
		if err := w.Close(); err != nil {
			p.logger.Warn("close watcher", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("close: background work still running", zap.Error(ctx.Err()))
	}

	var g errgroup.Group
	for _, rt := range runtimes {
		g.Go(func() error {
			return rt.Dispose(ctx)
		})
	}
	disposeErr := g.Wait()

	p.shutdownSpawner(ctx)

	var flushErr error
	if p.manifest != nil {
		flushErr = p.manifest.Close()
	}

	p.logger.Info("project closed", zap.String("path", p.path))
	return errors.Join(disposeErr, flushErr)
}
