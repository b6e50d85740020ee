package project

import (
	"errors"
	"fmt"
)

// Standard errors returned by the project package.
var (
	// ErrNotOpen indicates the project has been closed.
	ErrNotOpen = errors.New("project not open")

	// ErrNotInProject indicates the path is outside the project root.
	ErrNotInProject = errors.New("path not in project")

	// ErrNotDirectory indicates the path is a file, not a directory.
	ErrNotDirectory = errors.New("path is not a directory")

	// ErrAlreadyExists indicates the file or directory already exists.
	ErrAlreadyExists = errors.New("already exists")
)

// PathError represents an error associated with a file path.
type PathError struct {
	Op   string // Operation that failed (open, scan, readdir, etc.)
	Path string // File path
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}

// NewPathError creates a new PathError.
func NewPathError(op, path string, err error) *PathError {
	return &PathError{Op: op, Path: path, Err: err}
}

// IsNotInProject returns true if the error indicates a path outside the
// project.
func IsNotInProject(err error) bool {
	return errors.Is(err, ErrNotInProject)
}
