package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newWatcher(t *testing.T, opts ...Option) *FSNotifyWatcher {
	t.Helper()
	w, err := NewFSNotifyWatcher(opts...)
	if err != nil {
		t.Fatalf("NewFSNotifyWatcher error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// waitFor drains events until one matches path and kind.
func waitFor(t *testing.T, w *FSNotifyWatcher, path string, kind Kind) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-w.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s %s", kind, path)
			}
			if event.Path == path && event.Kind == kind {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s %s", kind, path)
		}
	}
}

// assertNoEvent fails if an event for path arrives within the window.
func assertNoEvent(t *testing.T, w *FSNotifyWatcher, path string, window time.Duration) {
	t.Helper()
	timeout := time.After(window)
	for {
		select {
		case event := <-w.Events():
			if event.Path == path {
				t.Fatalf("unexpected event %s %s", event.Kind, event.Path)
			}
		case <-timeout:
			return
		}
	}
}

func TestFSNotifyWatcher_WatchRecursive(t *testing.T) {
	w := newWatcher(t)
	root := t.TempDir()
	for _, d := range []string{"a/b", "c", ".git/objects"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.WatchRecursive(root); err != nil {
		t.Fatalf("WatchRecursive error = %v", err)
	}

	for _, d := range []string{"", "a", "a/b", "c"} {
		if !w.IsWatching(filepath.Join(root, d)) {
			t.Errorf("should be watching %q", d)
		}
	}
	if w.IsWatching(filepath.Join(root, ".git")) {
		t.Error("hidden directories must not be watched")
	}
	if got := len(w.WatchedPaths()); got != 4 {
		t.Errorf("WatchedPaths() len = %d, want 4", got)
	}

	if err := w.Unwatch(filepath.Join(root, "a")); err != nil {
		t.Fatalf("Unwatch error = %v", err)
	}
	if w.IsWatching(filepath.Join(root, "a", "b")) {
		t.Error("Unwatch should drop subdirectories")
	}
	if err := w.Unwatch(filepath.Join(root, "a")); err != ErrNotWatching {
		t.Errorf("Unwatch again error = %v, want ErrNotWatching", err)
	}
}

func TestFSNotifyWatcher_WatchRecursiveErrors(t *testing.T) {
	w := newWatcher(t)
	root := t.TempDir()

	if err := w.WatchRecursive(filepath.Join(root, "missing")); err != ErrPathNotExist {
		t.Errorf("WatchRecursive(missing) error = %v, want ErrPathNotExist", err)
	}

	file := filepath.Join(root, "f.txt")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.WatchRecursive(file); err == nil {
		t.Error("WatchRecursive(file) should fail")
	}
}

func TestFSNotifyWatcher_FileLifecycle(t *testing.T) {
	w := newWatcher(t)
	root := t.TempDir()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	file := filepath.Join(root, "client.lua")
	if err := os.WriteFile(file, []byte("print(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, file, Added)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("\nprint(2)")
	_ = f.Close()
	waitFor(t, w, file, Changed)

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, file, Removed)
}

func TestFSNotifyWatcher_DirectoryLifecycle(t *testing.T) {
	w := newWatcher(t)
	root := t.TempDir()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(root, "chat")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, dir, AddedDir)

	deadline := time.Now().Add(2 * time.Second)
	for !w.IsWatching(dir) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !w.IsWatching(dir) {
		t.Fatal("new directory should be watched")
	}

	file := filepath.Join(dir, "fxmanifest.lua")
	if err := os.WriteFile(file, []byte("fx_version 'cerulean'"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, file, Added)

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, dir, RemovedDir)
	if w.IsWatching(dir) {
		t.Error("removed directory should no longer be watched")
	}
}

func TestFSNotifyWatcher_IgnoresHiddenAndPatterns(t *testing.T) {
	w := newWatcher(t, WithIgnorePatterns([]string{"*.log"}))
	root := t.TempDir()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	hidden := filepath.Join(root, ".fxdk")
	logFile := filepath.Join(root, "debug.log")
	kept := filepath.Join(root, "kept.lua")

	if err := os.Mkdir(hidden, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(kept, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, w, kept, Added)
	assertNoEvent(t, w, logFile, 100*time.Millisecond)
	if w.IsWatching(hidden) {
		t.Error("hidden directory should not be watched")
	}
}

func TestNewFSNotifyWatcher_BadIgnorePattern(t *testing.T) {
	if _, err := NewFSNotifyWatcher(WithIgnorePatterns([]string{"[oops"})); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestFSNotifyWatcher_MaxWatches(t *testing.T) {
	w := newWatcher(t, WithMaxWatches(2))
	root := t.TempDir()
	for _, d := range []string{"a", "b", "c"} {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.WatchRecursive(root); err != ErrWatchLimit {
		t.Errorf("WatchRecursive error = %v, want ErrWatchLimit", err)
	}
	if got := len(w.WatchedPaths()); got != 2 {
		t.Errorf("WatchedPaths() len = %d, want 2", got)
	}
}

func TestFSNotifyWatcher_Close(t *testing.T) {
	w, err := NewFSNotifyWatcher()
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("events channel should be closed")
	}
	if err := w.WatchRecursive(root); err != ErrWatcherClosed {
		t.Errorf("WatchRecursive after Close error = %v, want ErrWatcherClosed", err)
	}
}

func TestFSNotifyWatcher_Stats(t *testing.T) {
	w := newWatcher(t)
	root := t.TempDir()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	file := filepath.Join(root, "x.lua")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, file, Added)

	stats := w.Stats()
	if stats.WatchedPaths != 1 {
		t.Errorf("WatchedPaths = %d, want 1", stats.WatchedPaths)
	}
	if stats.TotalEvents < 1 {
		t.Errorf("TotalEvents = %d, want >= 1", stats.TotalEvents)
	}
	if stats.StartTime.IsZero() {
		t.Error("StartTime should be set")
	}
}

func TestFSNotifyWatcher_OverflowSignalled(t *testing.T) {
	w := newWatcher(t, WithBufferSize(2))
	root := t.TempDir()
	if err := w.WatchRecursive(root); err != nil {
		t.Fatal(err)
	}

	// Nothing drains Events, so the buffer fills and later events drop.
	for i := 0; i < 20; i++ {
		name := filepath.Join(root, fmt.Sprintf("f%02d.lua", i))
		if err := os.WriteFile(name, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-w.Overflow():
	case <-time.After(2 * time.Second):
		t.Fatalf("no overflow signal; dropped = %d", w.Stats().Dropped)
	}
	if w.Stats().Dropped == 0 {
		t.Error("Dropped = 0, want > 0")
	}
}

func TestFSNotifyWatcher_KernelOverflowSignalled(t *testing.T) {
	w := newWatcher(t)

	w.handleError(fmt.Errorf("read: %w", fsnotify.ErrEventOverflow))

	select {
	case <-w.Overflow():
	default:
		t.Fatal("kernel queue overflow was not signalled")
	}
	select {
	case err := <-w.Errors():
		if !errors.Is(err, fsnotify.ErrEventOverflow) {
			t.Errorf("error = %v, want ErrEventOverflow", err)
		}
	default:
		t.Error("overflow error not delivered")
	}

	w.handleError(errors.New("other"))
	select {
	case <-w.Overflow():
		t.Error("unexpected overflow signal for an unrelated error")
	default:
	}
}
