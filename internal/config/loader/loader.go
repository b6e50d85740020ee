// Package loader reads configuration sources into nested maps.
//
// Sources are a TOML file, a .env file and the process environment. Each
// produces a map keyed by section ("watch", "manifest", ...) that callers
// merge with DeepMerge, later sources overriding earlier ones.
package loader

import "fmt"

// Loader reads one configuration source. A source that does not exist
// yields nil, nil.
type Loader interface {
	Load() (map[string]any, error)
}

// ParseError reports a source that exists but cannot be read as
// configuration. Line and Column are 1-based and zero when unknown.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DeepMerge merges src into dst and returns dst. Nested maps merge
// recursively; any other src value replaces the dst value. Maps taken
// from src are copied, so later merges into dst never modify src.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for key, srcVal := range src {
		srcMap, srcIsMap := srcVal.(map[string]any)
		if !srcIsMap {
			dst[key] = srcVal
			continue
		}
		dstMap, dstIsMap := dst[key].(map[string]any)
		if !dstIsMap {
			dstMap = nil
		}
		dst[key] = DeepMerge(dstMap, srcMap)
	}
	return dst
}
