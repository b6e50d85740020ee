// Package vfs provides the file system abstraction used by the project engine.
//
// The VFS interface allows swapping the underlying file system so scanners and
// manifest persistence can be exercised against fault-injecting test doubles.
package vfs

import (
	"errors"
	"io"
	"io/fs"
)

// VFS is a file system abstraction.
type VFS interface {
	// ReadDir reads a directory and returns its entries in listing order.
	ReadDir(path string) ([]fs.DirEntry, error)

	// Lstat returns file information without following symbolic links.
	Lstat(path string) (fs.FileInfo, error)

	// Stat returns file information, following symbolic links.
	Stat(path string) (fs.FileInfo, error)

	// ReadFile reads the entire file content.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to a file, creating it if necessary.
	WriteFile(path string, data []byte, perm fs.FileMode) error

	// CreateTemp creates a new temporary file in dir.
	CreateTemp(dir, pattern string) (File, error)

	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string, perm fs.FileMode) error

	// Rename renames (moves) a file or directory.
	Rename(oldPath, newPath string) error

	// Remove removes a file or empty directory.
	Remove(path string) error

	// RemoveAll removes a path and all its contents.
	RemoveAll(path string) error
}

// File is a writable file handle returned by CreateTemp.
type File interface {
	io.Writer
	io.Closer
	Name() string
	Sync() error
}

// Exists reports whether path exists. Errors other than "not exist" are
// treated as existing, since the path may be present but unreadable.
func Exists(v VFS, path string) bool {
	_, err := v.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

// StatSafe returns file information, or nil if path cannot be stat'ed.
func StatSafe(v VFS, path string) fs.FileInfo {
	info, err := v.Stat(path)
	if err != nil {
		return nil
	}
	return info
}
