package loader

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/assetsync/internal/project/vfs"
)

// TOMLLoader reads a TOML config file.
type TOMLLoader struct {
	vfs  vfs.VFS
	path string
}

// NewTOMLLoader creates a loader for the file at path. A nil v reads from
// the OS file system.
func NewTOMLLoader(v vfs.VFS, path string) *TOMLLoader {
	if v == nil {
		v = vfs.NewOSFS()
	}
	return &TOMLLoader{vfs: v, path: path}
}

// Load reads and decodes the file. A missing file yields nil, nil.
func (l *TOMLLoader) Load() (map[string]any, error) {
	data, err := l.vfs.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", l.path, err)
	}

	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		perr := &ParseError{Path: l.path, Message: err.Error(), Err: err}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			perr.Line, perr.Column = decodeErr.Position()
		}
		return nil, perr
	}
	return config, nil
}
