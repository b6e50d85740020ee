package vfs

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// AtomicWriter replaces a single file atomically: data goes to a temporary
// file in the same directory which is then renamed over the target.
//
// Writes are serialized and monotonic. Each Write is stamped when called; a
// write whose stamp is older than the last committed one is skipped, so the
// file never regresses to an older snapshot.
type AtomicWriter struct {
	vfs  VFS
	path string

	seq atomic.Uint64

	mu        sync.Mutex
	committed uint64
}

// NewAtomicWriter creates a writer for path.
func NewAtomicWriter(v VFS, path string) *AtomicWriter {
	return &AtomicWriter{vfs: v, path: path}
}

// Path returns the target path.
func (w *AtomicWriter) Path() string {
	return w.path
}

// Write atomically replaces the target with data. It reports whether the
// data was committed; false with a nil error means a newer write won.
func (w *AtomicWriter) Write(data []byte) (bool, error) {
	stamp := w.seq.Add(1)

	w.mu.Lock()
	defer w.mu.Unlock()

	if stamp < w.committed {
		return false, nil
	}

	if err := w.replace(data); err != nil {
		return false, err
	}
	w.committed = stamp
	return true, nil
}

func (w *AtomicWriter) replace(data []byte) error {
	dir := filepath.Dir(w.path)
	tmp, err := w.vfs.CreateTemp(dir, "."+filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() { _ = w.vfs.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := w.vfs.Rename(tmpName, w.path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
