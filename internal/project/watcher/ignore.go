package watcher

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnorePatterns manages gitignore-style ignore rules shared by the watcher
// and the scanner. Supported forms:
//   - *.log              files ending in .log at any depth
//   - /build/            the build directory at the root
//   - **/node_modules/** anything under a node_modules directory
//   - !keep.log          re-include a previously ignored path
//
// A path inside an ignored directory is ignored as well.
type IgnorePatterns struct {
	mu       sync.RWMutex
	patterns []ignorePattern
}

type ignorePattern struct {
	original string
	glob     string
	negation bool
	dirOnly  bool
}

// NewIgnorePatterns creates an empty matcher.
func NewIgnorePatterns() *IgnorePatterns {
	return &IgnorePatterns{}
}

// AddPattern adds a pattern. Blank lines and comments are skipped.
// Returns doublestar.ErrBadPattern for malformed globs.
func (ip *IgnorePatterns) AddPattern(pattern string) error {
	pattern = strings.TrimRight(pattern, " \t")
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return nil
	}

	p := ignorePattern{original: pattern}
	if strings.HasPrefix(pattern, "!") {
		p.negation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		p.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	switch {
	case strings.HasPrefix(pattern, "/"):
		pattern = pattern[1:]
	case !strings.Contains(pattern, "/"):
		pattern = "**/" + pattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return doublestar.ErrBadPattern
	}
	p.glob = pattern

	ip.mu.Lock()
	ip.patterns = append(ip.patterns, p)
	ip.mu.Unlock()
	return nil
}

// AddPatterns adds multiple patterns, stopping at the first invalid one.
func (ip *IgnorePatterns) AddPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if err := ip.AddPattern(pattern); err != nil {
			return err
		}
	}
	return nil
}

// AddFromFile loads patterns from a file such as .gitignore.
func (ip *IgnorePatterns) AddFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if err := ip.AddPattern(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Match reports whether a slash- or OS-separated relative path is ignored.
func (ip *IgnorePatterns) Match(p string, isDir bool) bool {
	return ip.MatchRelative(p, "", isDir)
}

// MatchRelative reports whether p is ignored, evaluated relative to base.
// Paths outside base are never ignored.
func (ip *IgnorePatterns) MatchRelative(p, base string, isDir bool) bool {
	rel := p
	if base != "" {
		r, err := filepath.Rel(base, p)
		if err != nil || r == "." || strings.HasPrefix(r, "..") {
			return false
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)

	ip.mu.RLock()
	defer ip.mu.RUnlock()
	if len(ip.patterns) == 0 {
		return false
	}

	// Ancestors are directories; an ignored ancestor hides the path.
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if ip.matchLocked(dir, true) {
			return true
		}
	}
	return ip.matchLocked(rel, isDir)
}

// matchLocked evaluates patterns in order; later patterns override earlier.
func (ip *IgnorePatterns) matchLocked(rel string, isDir bool) bool {
	ignored := false
	for _, p := range ip.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(p.glob, rel); ok {
			ignored = !p.negation
		}
	}
	return ignored
}

// Count returns the number of patterns.
func (ip *IgnorePatterns) Count() int {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return len(ip.patterns)
}

// Patterns returns the patterns as added.
func (ip *IgnorePatterns) Patterns() []string {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	out := make([]string, len(ip.patterns))
	for i, p := range ip.patterns {
		out[i] = p.original
	}
	return out
}

// DefaultIgnorePatterns are tooling directories that never contain asset
// sources. Dot-prefixed paths are excluded separately.
var DefaultIgnorePatterns = []string{
	"node_modules/",
	"*.swp",
	"*~",
	"Thumbs.db",
}

// NewDefaultIgnorePatterns creates a matcher holding DefaultIgnorePatterns.
func NewDefaultIgnorePatterns() *IgnorePatterns {
	ip := NewIgnorePatterns()
	_ = ip.AddPatterns(DefaultIgnorePatterns)
	return ip
}
