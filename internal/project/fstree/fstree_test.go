package fstree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/assetsync/internal/project/scanner"
)

func dir(path, name string, meta map[string]any) scanner.Entry {
	return scanner.Entry{Path: path, Name: name, Kind: scanner.KindDirectory, Meta: meta}
}

func file(path, name string) scanner.Entry {
	return scanner.Entry{Path: path, Name: name, Kind: scanner.KindFile}
}

func sampleTree() *Tree {
	return NewTree("/p", scanner.PathsMap{
		"/p": {
			dir("/p/res", "res", map[string]any{"isResource": true}),
			dir("/p/lib", "lib", nil),
			file("/p/readme.md", "readme.md"),
		},
		"/p/res":       {file("/p/res/fxmanifest.lua", "fxmanifest.lua")},
		"/p/lib":       {dir("/p/lib/inner", "inner", map[string]any{"isResource": true})},
		"/p/lib/inner": {},
	})
}

func TestStore_FirstUpdateReplacesEverything(t *testing.T) {
	s := NewStore()
	assert.Nil(t, s.Get())

	tree := sampleTree()
	u := s.Update(tree)

	assert.Len(t, u.Replace, 4)
	assert.Empty(t, u.Delete)
	assert.Same(t, tree, s.Get())
}

func TestStore_NoChangeEmptyUpdate(t *testing.T) {
	s := NewStore()
	s.Update(sampleTree())

	u := s.Update(sampleTree())
	assert.True(t, u.Empty())
}

func TestStore_ReplaceAndDelete(t *testing.T) {
	s := NewStore()
	s.Update(sampleTree())

	next := sampleTree()
	// inner removed, lib listing changes, new dir added.
	delete(next.PathsMap, "/p/lib/inner")
	next.PathsMap["/p/lib"] = []scanner.Entry{}
	next.PathsMap["/p/new"] = []scanner.Entry{file("/p/new/a", "a")}
	next.PathsMap["/p"] = append(next.PathsMap["/p"][:2:2], dir("/p/new", "new", nil), file("/p/readme.md", "readme.md"))
	next.Entries = next.PathsMap["/p"]

	u := s.Update(next)

	assert.ElementsMatch(t, []string{"/p", "/p/lib", "/p/new"}, keys(u.Replace))
	assert.Equal(t, []string{"/p/lib/inner"}, u.Delete)
}

func TestDiff_MetaChangeIsReplacement(t *testing.T) {
	prev := scanner.PathsMap{"/p": {dir("/p/r", "r", nil)}}
	next := scanner.PathsMap{"/p": {dir("/p/r", "r", map[string]any{"isResource": true})}}

	u := Diff(prev, next)
	assert.Contains(t, u.Replace, "/p")
}

func TestTree_DirectoriesWithMeta(t *testing.T) {
	got := sampleTree().DirectoriesWithMeta("isResource")
	require.Len(t, got, 2)
	assert.Equal(t, "/p/lib/inner", got[0].Path)
	assert.Equal(t, "/p/res", got[1].Path)
}

func TestTree_Expand(t *testing.T) {
	tree := sampleTree()

	flat := tree.Expand("/p", 0)
	require.Len(t, flat, 3)
	assert.Nil(t, flat[0].Children)

	deep := tree.Expand("/p", 2)
	assert.Equal(t, "fxmanifest.lua", deep[0].Children[0].Name)
	assert.Equal(t, "inner", deep[1].Children[0].Name)

	// The stored tree is not mutated.
	assert.Nil(t, tree.PathsMap["/p"][0].Children)

	assert.Nil(t, tree.Expand("/missing", 1))
}

func keys(m map[string][]scanner.Entry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
