package config

import (
	"errors"
	"fmt"
)

// ErrValidationFailed is wrapped by every ValidationError.
var ErrValidationFailed = errors.New("validation failed")

// ValidationError describes a setting whose value is unusable.
type ValidationError struct {
	// Path is the dotted setting path.
	Path string
	// Message describes the problem.
	Message string
	// Value is the rejected value.
	Value any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %v)", e.Path, e.Message, e.Value)
}

// Is reports whether target is ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// TypeError indicates a setting of the wrong type.
type TypeError struct {
	Path     string
	Expected string
	Actual   any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %T", e.Path, e.Expected, e.Actual)
}

// Is reports whether target is ErrValidationFailed.
func (e *TypeError) Is(target error) bool {
	return target == ErrValidationFailed
}
