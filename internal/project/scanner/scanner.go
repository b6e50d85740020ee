package scanner

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/assetsync/internal/logging"
	"github.com/dshills/assetsync/internal/project/vfs"
)

// IgnoreFunc reports whether a path should be left out of the scan.
type IgnoreFunc func(path string, isDir bool) bool

// Scanner reads directory trees.
type Scanner struct {
	vfs        vfs.VFS
	extractors Extractors
	ignore     IgnoreFunc
	workers    int
	logger     *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithVFS sets the file system.
func WithVFS(v vfs.VFS) Option {
	return func(s *Scanner) {
		s.vfs = v
	}
}

// WithExtractor registers a metadata extractor under key.
func WithExtractor(key string, fn Extractor) Option {
	return func(s *Scanner) {
		s.extractors[key] = fn
	}
}

// WithIgnore sets an additional ignore predicate. Dot-prefixed names are
// always ignored.
func WithIgnore(fn IgnoreFunc) Option {
	return func(s *Scanner) {
		s.ignore = fn
	}
}

// WithWorkers sets the number of concurrent stat calls per directory.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// New creates a Scanner.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		extractors: make(Extractors),
		workers:    16,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.vfs == nil {
		s.vfs = vfs.NewOSFS()
	}
	s.logger = logging.OrDefault(s.logger, "scanner")
	return s
}

// IsHidden reports whether a base name is dot-prefixed.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ReadDir returns the immediate children of path, directories first.
func (s *Scanner) ReadDir(ctx context.Context, path string) ([]Entry, error) {
	return s.readDir(ctx, path, s.extractors)
}

// Scan walks root recursively and returns every visited directory's
// children keyed by the directory path. extra extractors, if any, are
// applied in addition to the registered ones.
//
// Only a failure to list root itself, or ctx cancellation, is returned as
// an error. Subdirectories that cannot be listed are left out.
func (s *Scanner) Scan(ctx context.Context, root string, extra Extractors) (PathsMap, error) {
	extractors := s.extractors
	if len(extra) > 0 {
		extractors = s.extractors.merge(extra)
	}

	root = filepath.Clean(root)
	rootEntries, err := s.readDir(ctx, root, extractors)
	if err != nil {
		return nil, err
	}

	result := PathsMap{root: rootEntries}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	var walk func(entries []Entry)
	walk = func(entries []Entry) {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := e.Path
			g.Go(func() error {
				children, err := s.readDir(gctx, dir, extractors)
				if err != nil {
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					s.logger.Debug("skipping unreadable directory", zap.String("path", dir), zap.Error(err))
					return nil
				}
				mu.Lock()
				result[dir] = children
				mu.Unlock()
				walk(children)
				return nil
			})
		}
	}
	walk(rootEntries)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// readDir lists path and classifies each child concurrently.
func (s *Scanner) readDir(ctx context.Context, path string, extractors Extractors) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := s.vfs.ReadDir(path)
	if err != nil {
		return nil, err
	}

	slots := make([]*Entry, len(dirEntries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, de := range dirEntries {
		name := de.Name()
		if IsHidden(name) {
			continue
		}
		g.Go(func() error {
			entry, ok := s.statEntry(gctx, filepath.Join(path, name), name, extractors)
			if ok {
				slots[i] = &entry
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(slots))
	for _, e := range slots {
		if e != nil {
			entries = append(entries, *e)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].IsDir() && !entries[j].IsDir()
	})
	return entries, nil
}

// statEntry builds the entry for one child. It returns false if the entry
// disappeared or is ignored.
func (s *Scanner) statEntry(ctx context.Context, path, name string, extractors Extractors) (Entry, bool) {
	info, err := s.vfs.Lstat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("stat failed", zap.String("path", path), zap.Error(err))
		}
		return Entry{}, false
	}

	entry := Entry{Path: path, Name: name}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		entry.Kind = KindSymlink
	case info.IsDir():
		entry.Kind = KindDirectory
	default:
		entry.Kind = KindFile
	}

	if s.ignore != nil && s.ignore(path, entry.IsDir()) {
		return Entry{}, false
	}

	if entry.IsDir() && len(extractors) > 0 {
		entry.Meta = s.extractMeta(ctx, path, extractors)
	}
	return entry, true
}

// extractMeta runs every extractor for a directory. Failures leave the key
// unset.
func (s *Scanner) extractMeta(ctx context.Context, path string, extractors Extractors) map[string]any {
	meta := make(map[string]any, len(extractors))
	for key, fn := range extractors {
		v, err := fn(ctx, path)
		if err != nil {
			s.logger.Debug("metadata extractor failed",
				zap.String("path", path), zap.String("key", key), zap.Error(err))
			continue
		}
		if v != nil {
			meta[key] = v
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
