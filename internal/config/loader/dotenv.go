package loader

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// DotEnvLoader loads prefixed variables from a .env file. Values are
// converted the same way as process environment variables.
type DotEnvLoader struct {
	path string
	env  *EnvLoader
}

// NewDotEnvLoader creates a loader for the .env file at path.
func NewDotEnvLoader(path, prefix string) *DotEnvLoader {
	return &DotEnvLoader{path: path, env: NewEnvLoader(prefix)}
}

// Load reads the file. A missing file yields nil, nil.
func (l *DotEnvLoader) Load() (map[string]any, error) {
	pairs, err := godotenv.Read(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &ParseError{Path: l.path, Message: err.Error(), Err: fmt.Errorf("reading env file: %w", err)}
	}
	return l.env.FromPairs(pairs), nil
}
