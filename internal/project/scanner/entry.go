// Package scanner walks a project directory and produces a flat map from
// directory path to its immediate children.
//
// Each directory entry may be enriched by pluggable metadata extractors,
// functions of the entry path whose results are stored in the entry's Meta
// bag under the extractor's key. Scanning is best-effort: entries that vanish
// while the scan is running are omitted rather than failing the scan.
package scanner

import (
	"context"
	"fmt"
)

// Kind classifies a filesystem entry.
type Kind int

const (
	// KindFile is a regular file (or any non-directory, non-symlink entry).
	KindFile Kind = iota
	// KindDirectory is a directory.
	KindDirectory
	// KindSymlink is a symbolic link. Symlinks are never followed.
	KindSymlink
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "file":
		*k = KindFile
	case "directory":
		*k = KindDirectory
	case "symlink":
		*k = KindSymlink
	default:
		return fmt.Errorf("unknown entry kind %q", string(b))
	}
	return nil
}

// Entry describes one filesystem entry.
type Entry struct {
	// Path is the absolute path of the entry.
	Path string `json:"path"`

	// Name is the base name.
	Name string `json:"name"`

	// Kind is the entry type.
	Kind Kind `json:"kind"`

	// Meta holds extractor results keyed by extractor name.
	// Only directories carry metadata.
	Meta map[string]any `json:"meta,omitempty"`

	// Children holds already-scanned children when the entry was expanded.
	Children []Entry `json:"children,omitempty"`
}

// IsDir returns true if the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// MetaBool returns a boolean metadata value, or false if absent.
func (e Entry) MetaBool(key string) bool {
	v, _ := e.Meta[key].(bool)
	return v
}

// Extractor computes one metadata value for a directory path.
// Returning a nil value or an error leaves the key unset.
type Extractor func(ctx context.Context, path string) (any, error)

// Extractors maps metadata keys to their extractors.
type Extractors map[string]Extractor

// merge returns a new set containing e overlaid with other.
func (e Extractors) merge(other Extractors) Extractors {
	out := make(Extractors, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// PathsMap maps a directory path to its ordered children.
type PathsMap map[string][]Entry

// Directories returns the number of directories in the map.
func (m PathsMap) Directories() int {
	return len(m)
}
