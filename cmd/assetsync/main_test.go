package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/assetsync/internal/project/fstree"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	none := filepath.Join(t.TempDir(), "none")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", none + ".toml", "--env-file", none + ".env"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	res := filepath.Join(dir, "resources", "chat")
	require.NoError(t, os.MkdirAll(res, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(res, "fxmanifest.lua"), []byte("fx_version 'cerulean'\n"), 0o644))

	out, err := execute(t, "scan", dir)
	require.NoError(t, err)

	var tree fstree.Tree
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	assert.Equal(t, dir, tree.Root)

	entries := tree.PathsMap[filepath.Join(dir, "resources")]
	require.Len(t, entries, 1)
	assert.Equal(t, "chat", entries[0].Name)
	assert.Equal(t, true, entries[0].Meta["isResource"])
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "init", dir, "demo")
	require.NoError(t, err)
	assert.Contains(t, out, `created project "demo"`)
	assert.FileExists(t, filepath.Join(dir, "fxproject.json"))
	assert.DirExists(t, filepath.Join(dir, ".fxdk"))

	_, err = execute(t, "init", dir, "demo")
	assert.Error(t, err)
}

func TestBuild_UnknownResource(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "init", dir, "demo")
	require.NoError(t, err)

	_, err = execute(t, "build", dir, "missing")
	assert.Error(t, err)
}
