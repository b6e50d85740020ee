package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/assetsync/internal/logging"
	"github.com/dshills/assetsync/internal/metrics"
)

// FSNotifyWatcher implements Watcher using fsnotify.
type FSNotifyWatcher struct {
	mu sync.RWMutex

	watcher *fsnotify.Watcher
	config  Config
	ignore  *IgnorePatterns
	logger  *zap.Logger

	// roots are the directories passed to WatchRecursive; ignore patterns
	// are evaluated relative to the root containing a path.
	roots []string

	// paths holds every watched directory.
	paths map[string]bool

	events   chan Event
	errors   chan error
	overflow chan struct{}

	startTime   time.Time
	totalEvents atomic.Int64
	dropped     atomic.Int64
	totalErrors atomic.Int64
	lastError   error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher(opts ...Option) (*FSNotifyWatcher, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	ignore := NewIgnorePatterns()
	for _, pattern := range config.IgnorePatterns {
		if err := ignore.AddPattern(pattern); err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", pattern, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	bufSize := config.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}

	w := &FSNotifyWatcher{
		watcher:   fsw,
		config:    config,
		ignore:    ignore,
		logger:    logging.OrDefault(config.Logger, "watcher"),
		paths:     make(map[string]bool),
		events:    make(chan Event, bufSize),
		errors:    make(chan error, bufSize),
		overflow:  make(chan struct{}, 1),
		startTime: time.Now(),
		closeCh:   make(chan struct{}),
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// WatchRecursive watches a directory and all non-hidden subdirectories.
func (w *FSNotifyWatcher) WatchRecursive(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", absPath)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.roots = append(w.roots, absPath)
	w.mu.Unlock()

	return w.walk(absPath, false)
}

// walk registers every directory under root. With emit set, the contents
// found below root are reported as added; this covers entries created
// before the watch on a new directory was in place.
func (w *FSNotifyWatcher) walk(root string, emit bool) error {
	var limitErr error
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		isDir := d.IsDir()
		if p != root && (isHidden(d.Name()) || w.ignored(p, isDir)) {
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}

		if isDir {
			if err := w.addWatch(p); err != nil {
				if errors.Is(err, ErrWatchLimit) || errors.Is(err, ErrWatcherClosed) {
					limitErr = err
					return filepath.SkipAll
				}
				w.recordError(err)
				w.logger.Warn("watch directory failed", zap.String("path", p), zap.Error(err))
			}
		}

		if emit && p != root {
			kind := Added
			if isDir {
				kind = AddedDir
			}
			w.sendEvent(Event{Path: p, Kind: kind, Timestamp: time.Now()})
		}
		return nil
	})
	if err != nil {
		return err
	}
	return limitErr
}

func (w *FSNotifyWatcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[path] {
		return nil
	}
	if w.config.MaxWatches > 0 && len(w.paths) >= w.config.MaxWatches {
		return ErrWatchLimit
	}
	if err := w.watcher.Add(path); err != nil {
		return err
	}
	w.paths[path] = true
	return nil
}

// Unwatch stops watching a directory and everything below it.
func (w *FSNotifyWatcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if !w.paths[absPath] {
		return ErrNotWatching
	}
	w.forgetLocked(absPath)
	return nil
}

// forgetLocked drops dir and its subdirectories. The kernel may already
// have released the watches, so removal errors are ignored.
func (w *FSNotifyWatcher) forgetLocked(dir string) {
	prefix := dir + string(filepath.Separator)
	for p := range w.paths {
		if p == dir || strings.HasPrefix(p, prefix) {
			_ = w.watcher.Remove(p)
			delete(w.paths, p)
		}
	}
}

// Events returns the event channel.
func (w *FSNotifyWatcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errors
}

// Overflow returns the overflow signal channel.
func (w *FSNotifyWatcher) Overflow() <-chan struct{} {
	return w.overflow
}

// Close stops the watcher.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()

	close(w.events)
	close(w.errors)
	close(w.overflow)

	return w.watcher.Close()
}

// Stats returns watcher statistics.
func (w *FSNotifyWatcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		WatchedPaths:  len(w.paths),
		PendingEvents: len(w.events),
		TotalEvents:   w.totalEvents.Load(),
		Dropped:       w.dropped.Load(),
		Errors:        w.totalErrors.Load(),
		LastError:     w.lastError,
		StartTime:     w.startTime,
	}
}

// IsWatching returns true if the directory is being watched.
func (w *FSNotifyWatcher) IsWatching(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[absPath]
}

// WatchedPaths returns all watched directories.
func (w *FSNotifyWatcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	return paths
}

// processLoop handles incoming fsnotify events.
func (w *FSNotifyWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleError(err)
		}
	}
}

// handleError records a backend error. A kernel queue overflow means
// events were lost, which is signalled like a full buffer.
func (w *FSNotifyWatcher) handleError(err error) {
	w.recordError(err)
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		w.signalOverflow()
	}
	w.sendError(err)
}

// handleFSEvent classifies an fsnotify event and forwards it.
func (w *FSNotifyWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 || op == OpChmod {
		return
	}

	name := fsEvent.Name
	if isHidden(filepath.Base(name)) {
		return
	}

	event := Event{Path: name, Op: op, Timestamp: time.Now()}

	switch {
	case op.Has(OpCreate):
		info, err := os.Lstat(name)
		if err != nil {
			// Gone again before we looked; the removal event follows.
			return
		}
		if !info.IsDir() {
			if w.ignored(name, false) {
				return
			}
			event.Kind = Added
			w.sendEvent(event)
			return
		}
		if w.ignored(name, true) {
			return
		}
		event.Kind = AddedDir
		w.sendEvent(event)
		if err := w.walk(name, true); err != nil {
			w.recordError(err)
			w.sendError(err)
		}

	case op.Has(OpRemove), op.Has(OpRename):
		w.mu.Lock()
		wasDir := w.paths[name]
		if wasDir {
			w.forgetLocked(name)
		}
		w.mu.Unlock()

		if w.ignored(name, wasDir) {
			return
		}
		event.Kind = Removed
		if wasDir {
			event.Kind = RemovedDir
		}
		w.sendEvent(event)

	case op.Has(OpWrite):
		if w.ignored(name, false) {
			return
		}
		event.Kind = Changed
		w.sendEvent(event)
	}
}

// convertOp converts fsnotify.Op to watcher.Op.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ignored evaluates the ignore patterns relative to the owning root.
func (w *FSNotifyWatcher) ignored(path string, isDir bool) bool {
	if w.ignore.Count() == 0 {
		return false
	}
	w.mu.RLock()
	root := ""
	for _, r := range w.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			root = r
			break
		}
	}
	w.mu.RUnlock()
	if root == "" {
		return false
	}
	return w.ignore.MatchRelative(path, root, isDir)
}

// sendEvent delivers an event without blocking.
func (w *FSNotifyWatcher) sendEvent(event Event) {
	select {
	case w.events <- event:
		w.totalEvents.Add(1)
		metrics.RecordFsEvent(event.Kind.String())
		w.logger.Debug("fs event",
			zap.String("kind", event.Kind.String()),
			zap.String("path", event.Path))
	default:
		w.dropped.Add(1)
		w.logger.Warn("event buffer full, dropping event", zap.String("path", event.Path))
		w.signalOverflow()
	}
}

// signalOverflow queues an overflow signal unless one is already pending.
func (w *FSNotifyWatcher) signalOverflow() {
	select {
	case w.overflow <- struct{}{}:
	default:
	}
}

// sendError delivers an error without blocking.
func (w *FSNotifyWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *FSNotifyWatcher) recordError(err error) {
	w.totalErrors.Add(1)
	w.mu.Lock()
	w.lastError = err
	w.mu.Unlock()
}

// Ensure FSNotifyWatcher implements Watcher.
var _ Watcher = (*FSNotifyWatcher)(nil)
