// Package fstree holds the committed project tree and computes incremental
// updates between successive scans.
package fstree

import (
	"reflect"
	"sort"
	"sync"

	"github.com/dshills/assetsync/internal/project/scanner"
)

// Tree is a scanned project tree.
type Tree struct {
	// Root is the project root path.
	Root string `json:"root"`

	// Entries are the root's immediate children.
	Entries []scanner.Entry `json:"entries"`

	// PathsMap maps every scanned directory to its children.
	PathsMap scanner.PathsMap `json:"pathsMap"`
}

// NewTree builds a Tree from a scan of root.
func NewTree(root string, paths scanner.PathsMap) *Tree {
	if paths == nil {
		paths = scanner.PathsMap{}
	}
	return &Tree{
		Root:     root,
		Entries:  paths[root],
		PathsMap: paths,
	}
}

// Children returns the children of a directory and whether it was scanned.
func (t *Tree) Children(path string) ([]scanner.Entry, bool) {
	if t == nil {
		return nil, false
	}
	entries, ok := t.PathsMap[path]
	return entries, ok
}

// DirectoriesWithMeta returns every directory entry whose boolean metadata
// key is true, ordered by path.
func (t *Tree) DirectoriesWithMeta(key string) []scanner.Entry {
	if t == nil {
		return nil
	}
	var out []scanner.Entry
	for _, entries := range t.PathsMap {
		for _, e := range entries {
			if e.IsDir() && e.MetaBool(key) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Expand returns the children of path with directories' Children filled in
// down to depth levels. A depth of 0 returns the plain listing.
func (t *Tree) Expand(path string, depth int) []scanner.Entry {
	entries, ok := t.Children(path)
	if !ok {
		return nil
	}
	out := make([]scanner.Entry, len(entries))
	copy(out, entries)
	if depth <= 0 {
		return out
	}
	for i := range out {
		if out[i].IsDir() {
			out[i].Children = t.Expand(out[i].Path, depth-1)
		}
	}
	return out
}

// Update is the incremental difference between two trees.
type Update struct {
	// Replace holds directories that are new or whose children changed.
	Replace map[string][]scanner.Entry `json:"replace"`

	// Delete lists directories that no longer exist, ordered by path.
	Delete []string `json:"delete"`
}

// Empty returns true if the update carries no changes.
func (u Update) Empty() bool {
	return len(u.Replace) == 0 && len(u.Delete) == 0
}

// Diff computes the update that turns prev into next. A nil prev yields
// every directory of next as a replacement.
func Diff(prev, next scanner.PathsMap) Update {
	u := Update{Replace: make(map[string][]scanner.Entry)}

	for path, entries := range next {
		old, ok := prev[path]
		if !ok || !reflect.DeepEqual(old, entries) {
			u.Replace[path] = entries
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			u.Delete = append(u.Delete, path)
		}
	}
	sort.Strings(u.Delete)
	return u
}

// Store holds the last committed Tree. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	tree *Tree
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the committed tree, or nil before the first Update.
// Callers must not modify the returned tree.
func (s *Store) Get() *Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree
}

// Update commits next and returns its difference from the previous tree.
func (s *Store) Update(next *Tree) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev scanner.PathsMap
	if s.tree != nil {
		prev = s.tree.PathsMap
	}
	var paths scanner.PathsMap
	if next != nil {
		paths = next.PathsMap
	}

	u := Diff(prev, paths)
	s.tree = next
	return u
}
