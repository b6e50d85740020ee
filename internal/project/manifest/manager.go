package manifest

import (
	"context"
	"encoding/json"
	"maps"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/assetsync/internal/concurrency"
	"github.com/dshills/assetsync/internal/logging"
	"github.com/dshills/assetsync/internal/metrics"
	"github.com/dshills/assetsync/internal/project/fstree"
	"github.com/dshills/assetsync/internal/project/vfs"
)

// Listener receives manifest change notifications. Callbacks for
// reconciliation run while the reconcile lock is held and must not call
// RenameResource, DeleteResource or Reconcile.
type Listener interface {
	// ResourcesRelinked is called when reconciliation changed the resource
	// set. enabledPaths are the paths of enabled resources.
	ResourcesRelinked(enabledPaths []string, resources map[string]ResourceConfig)

	// ResourceConfigChanged is called after a resource's config changed.
	ResourceConfigChanged(name string, cfg ResourceConfig)

	// ManifestUpdated is called after any manifest change.
	ManifestUpdated(m *Manifest)
}

// ReconcileResult describes the outcome of a reconciliation.
type ReconcileResult struct {
	Added   []string
	Removed []string

	// EnabledPaths are the paths of enabled resources present in the tree.
	EnabledPaths []string
}

// Changed returns true if the resource set changed.
func (r ReconcileResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Manager owns the in-memory manifest and its persisted file.
type Manager struct {
	path   string
	writer *vfs.AtomicWriter

	// lock serializes reconciliation and rename/delete.
	lock concurrency.Lock

	mu       sync.RWMutex
	manifest *Manifest
	closed   bool

	// paths maps resource names to directories from the last reconcile.
	paths map[string]string

	// writeMu keeps encode and write of one snapshot together.
	writeMu sync.Mutex

	persist    *concurrency.Trigger
	persistMu  sync.Mutex
	persistErr error

	resourceKey string
	listener    Listener
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithListener sets the change listener.
func WithListener(l Listener) Option {
	return func(m *Manager) {
		m.listener = l
	}
}

// WithPersistDelay sets the debounce delay for setter writes.
func WithPersistDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.persist = concurrency.NewTrigger(m.persistDebounced, d)
	}
}

// WithResourceMetaKey sets the tree metadata key marking resource roots.
func WithResourceMetaKey(key string) Option {
	return func(m *Manager) {
		m.resourceKey = key
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Load reads the manifest at path and returns a Manager for it.
func Load(v vfs.VFS, path string, opts ...Option) (*Manager, error) {
	data, err := v.ReadFile(path)
	if err != nil {
		return nil, &ReconcileError{Op: "load", Path: path, Err: err}
	}
	m, err := Parse(data)
	if err != nil {
		return nil, &ReconcileError{Op: "load", Path: path, Err: err}
	}
	return newManager(v, path, m, opts...), nil
}

// Create writes a fresh manifest named name at path and returns its Manager.
func Create(v vfs.VFS, path, name string, opts ...Option) (*Manager, error) {
	mgr := newManager(v, path, nil, opts...)
	mgr.manifest = New(name, mgr.now())
	if err := mgr.WriteNow(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func newManager(v vfs.VFS, path string, m *Manifest, opts ...Option) *Manager {
	mgr := &Manager{
		path:        path,
		writer:      vfs.NewAtomicWriter(v, path),
		manifest:    m,
		paths:       make(map[string]string),
		resourceKey: "isResource",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	if mgr.persist == nil {
		mgr.persist = concurrency.NewTrigger(mgr.persistDebounced, 100*time.Millisecond)
	}
	mgr.logger = logging.OrDefault(mgr.logger, "manifest")
	return mgr
}

// Path returns the manifest file path.
func (m *Manager) Path() string {
	return m.path
}

// Snapshot returns a copy of the current manifest.
func (m *Manager) Snapshot() *Manifest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manifest.Clone()
}

// Resources returns a copy of the resource configurations.
func (m *Manager) Resources() map[string]ResourceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manifest.Clone().Resources
}

// ResourceConfig returns the config for name, or the default.
func (m *Manager) ResourceConfig(name string) ResourceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manifest.ResourceConfig(name)
}

// EnabledPaths returns the directories of enabled resources seen in the
// last reconciliation, ordered by path.
func (m *Manager) EnabledPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabledPathsLocked()
}

func (m *Manager) enabledPathsLocked() []string {
	var out []string
	for name, cfg := range m.manifest.Resources {
		if p, ok := m.paths[name]; ok && cfg.Enabled {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Reconcile aligns the manifest's resource set with the resources present
// in tree. Existing configs are kept for resources still present, configs
// of vanished resources are dropped, and newly present resources get the
// default config. When the set changes the manifest is persisted
// (debounced) and the listener is told the resources were relinked.
//
// Concurrent calls are serialized; a caller waits for the lock unless ctx
// is cancelled first.
func (m *Manager) Reconcile(ctx context.Context, tree *fstree.Tree) (ReconcileResult, error) {
	if err := m.lock.LockContext(ctx); err != nil {
		return ReconcileResult{}, err
	}
	defer m.lock.Unlock()

	metrics.RecordReconcile()

	present := resourceDirs(tree, m.resourceKey)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ReconcileResult{}, ErrClosed
	}

	res, result := rebuild(m.manifest.Resources, present)
	m.paths = present
	if result.Changed() {
		m.manifest.Resources = res
	}
	result.EnabledPaths = m.enabledPathsLocked()
	var snapshot *Manifest
	if result.Changed() {
		snapshot = m.manifest.Clone()
	}
	m.mu.Unlock()

	if !result.Changed() {
		return result, nil
	}

	m.logger.Info("resources relinked",
		zap.Strings("added", result.Added),
		zap.Strings("removed", result.Removed),
		zap.Int("enabled", len(result.EnabledPaths)))

	m.persist.Call()

	if m.listener != nil {
		m.listener.ResourcesRelinked(result.EnabledPaths, snapshot.Resources)
		m.listener.ManifestUpdated(snapshot)
	}
	return result, nil
}

// ResourceConfigSet maps resource names to their configuration.
type ResourceConfigSet = map[string]ResourceConfig

// rebuild computes the reconciled resource map.
func rebuild(old ResourceConfigSet, present map[string]string) (ResourceConfigSet, ReconcileResult) {
	next := make(ResourceConfigSet, len(present))
	var result ReconcileResult

	for name := range present {
		if cfg, ok := old[name]; ok {
			next[name] = cfg
			continue
		}
		next[name] = DefaultResourceConfig()
		result.Added = append(result.Added, name)
	}
	for name := range old {
		if _, ok := present[name]; !ok {
			result.Removed = append(result.Removed, name)
		}
	}
	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	return next, result
}

// resourceDirs maps resource names (directory base names) to their paths.
// When two directories share a name the lexically first path wins.
func resourceDirs(tree *fstree.Tree, key string) map[string]string {
	out := make(map[string]string)
	for _, e := range tree.DirectoriesWithMeta(key) {
		if _, dup := out[e.Name]; !dup {
			out[e.Name] = e.Path
		}
	}
	return out
}

// SetResourceConfig merges patch into the named resource's config and
// schedules a write.
func (m *Manager) SetResourceConfig(name string, patch ConfigPatch) (ResourceConfig, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ResourceConfig{}, ErrClosed
	}
	cfg := patch.Apply(m.manifest.ResourceConfig(name))
	m.manifest.Resources[name] = cfg
	snapshot := m.manifest.Clone()
	m.mu.Unlock()

	m.persist.Call()
	m.notifyConfig(name, cfg.Clone(), snapshot)
	return cfg, nil
}

// SetResourcesEnabled sets the enabled flag of every named resource.
func (m *Manager) SetResourcesEnabled(names []string, enabled bool) error {
	for _, name := range names {
		if _, err := m.SetResourceConfig(name, ConfigPatch{Enabled: &enabled}); err != nil {
			return err
		}
	}
	return nil
}

// SetPathsState replaces the opaque UI paths state and schedules a write.
func (m *Manager) SetPathsState(state json.RawMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.manifest.PathsState = append(json.RawMessage(nil), state...)
	m.manifest.normalize()
	snapshot := m.manifest.Clone()
	m.mu.Unlock()

	m.persist.Call()
	if m.listener != nil {
		m.listener.ManifestUpdated(snapshot)
	}
	return nil
}

// SetServerUpdateChannel changes the server update channel and schedules a
// write. It reports whether the value changed.
func (m *Manager) SetServerUpdateChannel(channel string) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrClosed
	}
	if m.manifest.ServerUpdateChannel == channel {
		m.mu.Unlock()
		return false, nil
	}
	m.manifest.ServerUpdateChannel = channel
	snapshot := m.manifest.Clone()
	m.mu.Unlock()

	m.persist.Call()
	if m.listener != nil {
		m.listener.ManifestUpdated(snapshot)
	}
	return true, nil
}

// RenameResource moves oldName's config to newName and writes the manifest
// immediately. Renaming a resource without a config is a no-op.
func (m *Manager) RenameResource(ctx context.Context, oldName, newName string) error {
	if err := m.lock.LockContext(ctx); err != nil {
		return err
	}
	defer m.lock.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	cfg, ok := m.manifest.Resources[oldName]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if _, exists := m.manifest.Resources[newName]; exists && newName != oldName {
		m.mu.Unlock()
		return ErrResourceExists
	}
	delete(m.manifest.Resources, oldName)
	m.manifest.Resources[newName] = cfg
	if p, ok := m.paths[oldName]; ok {
		delete(m.paths, oldName)
		m.paths[newName] = filepath.Join(filepath.Dir(p), newName)
	}
	m.mu.Unlock()

	return m.WriteNow()
}

// DeleteResource drops name's config and writes the manifest immediately.
func (m *Manager) DeleteResource(ctx context.Context, name string) error {
	if err := m.lock.LockContext(ctx); err != nil {
		return err
	}
	defer m.lock.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.manifest.Resources[name]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.manifest.Resources, name)
	delete(m.paths, name)
	m.mu.Unlock()

	return m.WriteNow()
}

// WriteNow persists the current manifest synchronously.
func (m *Manager) WriteNow() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	m.manifest.UpdatedAt = m.now().UTC()
	data, err := m.manifest.Encode()
	m.mu.Unlock()
	if err != nil {
		return &ReconcileError{Op: "encode", Path: m.path, Err: err}
	}

	_, err = m.writer.Write(data)
	metrics.RecordManifestWrite(err)
	if err != nil {
		return &ReconcileError{Op: "write", Path: m.path, Err: err}
	}
	m.logger.Debug("manifest written", zap.String("path", m.path))
	return nil
}

// persistDebounced is the debounced write. Its error is kept for Flush.
func (m *Manager) persistDebounced() {
	err := m.WriteNow()
	if err != nil {
		m.logger.Error("manifest write failed", zap.Error(err))
	}
	m.persistMu.Lock()
	m.persistErr = err
	m.persistMu.Unlock()
}

// Flush runs a pending debounced write now and returns the error of the
// most recent debounced write.
func (m *Manager) Flush() error {
	m.persist.Flush()
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	return m.persistErr
}

// Close flushes pending writes and rejects further changes.
func (m *Manager) Close() error {
	err := m.Flush()
	m.persist.Stop()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return err
}

func (m *Manager) notifyConfig(name string, cfg ResourceConfig, snapshot *Manifest) {
	if m.listener == nil {
		return
	}
	m.listener.ResourceConfigChanged(name, cfg)
	m.listener.ManifestUpdated(snapshot)
}

// ResourceNames returns the configured resource names in order.
func (m *Manager) ResourceNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.manifest.Resources))
}

// MetaKey returns the tree metadata key used to recognize resources.
func (m *Manager) MetaKey() string {
	return m.resourceKey
}
