// Package watcher provides recursive file system watching for a project root.
//
// Raw notifications are classified into added, changed and removed events
// for files and directories. Dot-prefixed paths are never watched or
// reported. Debouncing is left to consumers.
package watcher

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrNotWatching   = errors.New("path is not being watched")
	ErrPathNotExist  = errors.New("path does not exist")
	ErrWatchLimit    = errors.New("maximum watch limit reached")
)

// Op represents the raw file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed away.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Kind classifies a change.
type Kind uint8

const (
	// Added is a new file.
	Added Kind = iota + 1
	// AddedDir is a new directory.
	AddedDir
	// Changed is a content change to an existing file.
	Changed
	// Removed is a deleted or renamed-away file.
	Removed
	// RemovedDir is a deleted or renamed-away directory.
	RemovedDir
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case AddedDir:
		return "added_dir"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case RemovedDir:
		return "removed_dir"
	default:
		return "unknown"
	}
}

// Structural reports whether the change alters the shape of the tree.
func (k Kind) Structural() bool {
	return k != Changed
}

// Event is a classified file system change.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string

	// Kind is the classified change.
	Kind Kind

	// Op is the raw operation. Zero for events synthesized while
	// registering a newly created directory.
	Op Op

	// Timestamp is when the event was observed.
	Timestamp time.Time
}

// Stats provides watcher status information.
type Stats struct {
	// WatchedPaths is the number of directories being watched.
	WatchedPaths int

	// PendingEvents is the number of events waiting to be consumed.
	PendingEvents int

	// TotalEvents is the total number of events delivered.
	TotalEvents int64

	// Dropped is the number of events dropped because the buffer was full.
	Dropped int64

	// Errors is the total number of errors encountered.
	Errors int64

	// LastError is the most recent error, if any.
	LastError error

	// StartTime is when the watcher was started.
	StartTime time.Time
}

// Watcher monitors a directory tree.
type Watcher interface {
	// WatchRecursive starts watching a directory and all non-hidden
	// subdirectories. Directories created later are added automatically.
	WatchRecursive(path string) error

	// Unwatch stops watching a directory and everything below it.
	Unwatch(path string) error

	// Events returns the channel of classified events.
	// The channel is closed when the watcher is closed.
	Events() <-chan Event

	// Errors returns the channel of watcher errors.
	// The channel is closed when the watcher is closed.
	Errors() <-chan error

	// Overflow signals that events were lost because a buffer was full.
	// Signals coalesce; a consumer should treat one as "rescan everything".
	// The channel is closed when the watcher is closed.
	Overflow() <-chan struct{}

	// Close stops the watcher and releases resources.
	Close() error

	// Stats returns watcher statistics.
	Stats() Stats

	// IsWatching returns true if the directory is being watched.
	IsWatching(path string) bool

	// WatchedPaths returns all watched directories.
	WatchedPaths() []string
}

// Config holds watcher configuration options.
type Config struct {
	// BufferSize is the size of the event and error channels.
	// Default: 256
	BufferSize int

	// IgnorePatterns are gitignore-style patterns, relative to the watched
	// root, for paths to leave out.
	IgnorePatterns []string

	// MaxWatches is the maximum number of directories to watch.
	// 0 means unlimited.
	MaxWatches int

	// Logger receives diagnostics.
	Logger *zap.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// Option configures a watcher.
type Option func(*Config)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(c *Config) {
		c.BufferSize = size
	}
}

// WithIgnorePatterns sets the ignore patterns.
func WithIgnorePatterns(patterns []string) Option {
	return func(c *Config) {
		c.IgnorePatterns = patterns
	}
}

// WithMaxWatches sets the maximum number of watched directories.
func WithMaxWatches(max int) Option {
	return func(c *Config) {
		c.MaxWatches = max
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
