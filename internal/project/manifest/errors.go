package manifest

import "fmt"

// ReconcileError is a manifest persistence failure.
type ReconcileError struct {
	Op   string // load, write
	Path string // manifest path
	Err  error
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	return fmt.Sprintf("manifest %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}
