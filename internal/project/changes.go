package project

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/assetsync/internal/metrics"
	"github.com/dshills/assetsync/internal/project/fstree"
	"github.com/dshills/assetsync/internal/project/manifest"
	"github.com/dshills/assetsync/internal/project/watcher"
	"github.com/dshills/assetsync/internal/resource"
)

// startWatching creates the watcher if none was supplied, watches the
// project root and starts the event loop.
func (p *Project) startWatching() error {
	if p.watcher == nil {
		w, err := watcher.NewFSNotifyWatcher(
			watcher.WithIgnorePatterns(p.config.IgnorePatterns),
			watcher.WithLogger(p.logger.Named("watcher")))
		if err != nil {
			return err
		}
		p.watcher = w
	}

	if err := p.watcher.WatchRecursive(p.path); err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processWatcherEvents(p.ctx, p.watcher)
	}()
	return nil
}

// processWatcherEvents processes file system events from the watcher.
func (p *Project) processWatcherEvents(ctx context.Context, w watcher.Watcher) {
	events := w.Events()
	errs := w.Errors()
	overflow := w.Overflow()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			p.handleWatchEvent(ctx, event)
		case err, ok := <-errs:
			if !ok {
				return
			}
			p.logger.Warn("watcher error", zap.Error(err))
		case _, ok := <-overflow:
			if !ok {
				return
			}
			p.logger.Warn("watcher dropped events, rescanning")
			p.rescan.Call()
		}
	}
}

// handleWatchEvent schedules a rescan for structural events and forwards
// additions and content changes to the owning resources.
func (p *Project) handleWatchEvent(ctx context.Context, event watcher.Event) {
	if event.Kind.Structural() {
		p.rescan.Call()
	}
	if event.Kind == watcher.Added || event.Kind == watcher.Changed {
		p.forward(ctx, event.Path)
	}
}

// forward hands path to every runtime whose directory contains it.
func (p *Project) forward(ctx context.Context, path string) {
	p.mu.RLock()
	var owners []*resource.Runtime
	for dir, rt := range p.runtimes {
		if strings.HasPrefix(path, dir+string(filepath.Separator)) {
			owners = append(owners, rt)
		}
	}
	p.mu.RUnlock()

	for _, rt := range owners {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := rt.AcceptFsEntryUpdate(ctx, path); err != nil && ctx.Err() == nil {
				p.logger.Warn("file change not applied",
					zap.String("resource", rt.Name()),
					zap.String("path", path),
					zap.Error(err))
			}
		}()
	}
}

// rescanNow is the debounced rescan.
func (p *Project) rescanNow() {
	p.mu.RLock()
	closed := p.closed
	if !closed {
		p.wg.Add(1)
	}
	p.mu.RUnlock()
	if closed {
		return
	}
	defer p.wg.Done()

	if err := p.refresh(p.ctx); err != nil && p.ctx.Err() == nil {
		p.logger.Error("rescan failed", zap.Error(err))
		p.client.Notify(err)
	}
}

// refresh scans the project, commits the tree, pushes the difference,
// reconciles the manifest and aligns the runtimes with the resources found.
// Refreshes never overlap, so trees commit in scan order.
func (p *Project) refresh(ctx context.Context) error {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	start := time.Now()
	paths, err := p.scanner.Scan(ctx, p.path, nil)
	if err != nil {
		return NewPathError("scan", p.path, err)
	}
	metrics.RecordRescan(time.Since(start), len(paths))

	tree := fstree.NewTree(p.path, paths)
	if update := p.store.Update(tree); !update.Empty() {
		p.client.FsTreeUpdate(update)
	}

	if _, err := p.manifest.Reconcile(ctx, tree); err != nil {
		return err
	}
	return p.syncRuntimes(ctx, tree)
}

// syncRuntimes creates a runtime for every new resource directory and
// disposes the runtimes of directories that disappeared.
func (p *Project) syncRuntimes(ctx context.Context, tree *fstree.Tree) error {
	present := make(map[string]string)
	for _, e := range tree.DirectoriesWithMeta(p.manifest.MetaKey()) {
		present[e.Path] = e.Name
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrNotOpen
	}
	var gone []*resource.Runtime
	for dir, rt := range p.runtimes {
		if _, ok := present[dir]; !ok {
			gone = append(gone, rt)
			delete(p.runtimes, dir)
		}
	}
	var created []*resource.Runtime
	for dir, name := range present {
		if _, ok := p.runtimes[dir]; ok {
			continue
		}
		rt := resource.New(name, dir, p.manifest, &runtimeHost{p: p}, p.runtimeOptions()...)
		p.runtimes[dir] = rt
		created = append(created, rt)
	}
	p.mu.Unlock()

	for _, rt := range gone {
		p.logger.Info("resource removed", zap.String("resource", rt.Name()), zap.String("path", rt.Path()))
		if err := rt.Dispose(ctx); err != nil {
			p.logger.Warn("dispose resource", zap.String("resource", rt.Name()), zap.Error(err))
		}
	}
	for _, rt := range created {
		p.logger.Info("resource discovered", zap.String("resource", rt.Name()), zap.String("path", rt.Path()))
		if err := rt.Init(ctx); err != nil {
			p.logger.Warn("init resource", zap.String("resource", rt.Name()), zap.Error(err))
		}
	}
	return nil
}

func (p *Project) runtimeOptions() []resource.Option {
	opts := []resource.Option{
		resource.WithVFS(p.vfs),
		resource.WithSpawner(p.spawner),
		resource.WithProvider(p.provider),
		resource.WithLogger(p.logger.Named("resource")),
	}
	if p.config.SequentialBuild {
		opts = append(opts, resource.WithSequentialBuild())
	}
	return opts
}

// runtimeHost is the capability a runtime receives back from its project.
type runtimeHost struct {
	p *Project
}

func (h *runtimeHost) RestartResource(name string) { h.p.client.RestartResource(name) }

func (h *runtimeHost) ReloadResource(name string) { h.p.client.ReloadResource(name) }

func (h *runtimeHost) ResourceStatus(name string, status resource.Status) {
	h.p.client.ResourceStatus(name, status)
}

func (h *runtimeHost) Notify(err error) {
	h.p.logger.Warn("resource error", zap.Error(err))
	h.p.client.Notify(err)
}

// manifestListener routes manifest notifications to the client, the
// server and the affected runtimes.
type manifestListener struct {
	p *Project
}

func (l *manifestListener) ResourcesRelinked(enabledPaths []string, _ map[string]manifest.ResourceConfig) {
	l.p.server.SetEnabledResources(l.p.path, enabledPaths)
}

func (l *manifestListener) ResourceConfigChanged(name string, _ manifest.ResourceConfig) {
	p := l.p
	rt, ok := p.Runtime(name)
	if !ok {
		return
	}

	p.mu.RLock()
	closed := p.closed
	if !closed {
		p.wg.Add(1)
	}
	p.mu.RUnlock()
	if closed {
		return
	}

	go func() {
		defer p.wg.Done()
		if err := rt.OnConfigChanged(p.ctx); err != nil && p.ctx.Err() == nil {
			p.logger.Warn("apply resource config", zap.String("resource", name), zap.Error(err))
		}
		p.server.SetEnabledResources(p.path, p.manifest.EnabledPaths())
	}()
}

func (l *manifestListener) ManifestUpdated(m *manifest.Manifest) {
	l.p.client.ResourcesUpdate(m.Resources)
}
