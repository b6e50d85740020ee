// Package declaration locates and parses asset declaration files
// (fxmanifest.lua, or the legacy __resource.lua).
//
// Declaration files are Lua. Every unknown global used as a call is a
// directive: `client_script 'a.lua'` records the value under
// client_script, and chained calls such as `fxdk_watch_command 'yarn'
// { 'watch' }` add further values to the same directive.
package declaration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dshills/assetsync/internal/project/scanner"
	"github.com/dshills/assetsync/internal/project/vfs"
)

// Declaration file names, in lookup order.
const (
	PrimaryFilename = "fxmanifest.lua"
	LegacyFilename  = "__resource.lua"
)

// MetaKey is the scanner metadata key marking asset directories.
const MetaKey = "isResource"

// ErrNoDeclaration is returned when a directory has no declaration file.
var ErrNoDeclaration = errors.New("no declaration file")

// Command is a declared build or watch command.
type Command struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Metadata is the parsed content of a declaration file.
type Metadata struct {
	ClientScripts []string `json:"clientScripts"`
	ServerScripts []string `json:"serverScripts"`
	SharedScripts []string `json:"sharedScripts"`

	WatchCommands []Command `json:"watchCommands"`
	BuildCommands []Command `json:"buildCommands"`

	// Extras holds every other directive's values.
	Extras map[string][]string `json:"extras,omitempty"`
}

// Scripts returns the declared client, server and shared scripts without
// duplicates, in declaration order.
func (m *Metadata) Scripts() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{m.ClientScripts, m.ServerScripts, m.SharedScripts} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Locate returns the declaration file inside dir, preferring the primary
// name over the legacy one.
func Locate(v vfs.VFS, dir string) (string, error) {
	for _, name := range []string{PrimaryFilename, LegacyFilename} {
		p := filepath.Join(dir, name)
		if info := vfs.StatSafe(v, p); info != nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", dir, ErrNoDeclaration)
}

// IsDeclarationFile reports whether name is a declaration file name.
func IsDeclarationFile(name string) bool {
	return name == PrimaryFilename || name == LegacyFilename
}

// Extractor returns a scanner extractor that marks directories holding a
// declaration file.
func Extractor(v vfs.VFS) scanner.Extractor {
	return func(_ context.Context, dir string) (any, error) {
		_, err := Locate(v, dir)
		return err == nil, nil
	}
}

// Provider loads declaration metadata.
type Provider interface {
	Load(ctx context.Context, path string) (*Metadata, error)
}

// Loader reads and parses declaration files.
type Loader struct {
	vfs     vfs.VFS
	timeout time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithTimeout bounds a single load.
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = d
	}
}

// NewLoader creates a Loader reading through v.
func NewLoader(v vfs.VFS, opts ...LoaderOption) *Loader {
	l := &Loader{vfs: v, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads and evaluates the declaration file at path.
func (l *Loader) Load(ctx context.Context, path string) (*Metadata, error) {
	src, err := l.vfs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return Parse(ctx, filepath.Base(path), src)
}

var _ Provider = (*Loader)(nil)
