package manifest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/assetsync/internal/project/fstree"
	"github.com/dshills/assetsync/internal/project/scanner"
	"github.com/dshills/assetsync/internal/project/vfs"
)

// countingFS counts renames (one per committed manifest write) and can be
// told to fail them.
type countingFS struct {
	*vfs.OSFS
	renames atomic.Int32
	fail    atomic.Bool
	// failNext fails that many renames before succeeding.
	failNext atomic.Int32
}

func (c *countingFS) Rename(oldPath, newPath string) error {
	if c.fail.Load() {
		return errors.New("disk full")
	}
	if c.failNext.Add(-1) >= 0 {
		return errors.New("file in use")
	}
	c.renames.Add(1)
	return c.OSFS.Rename(oldPath, newPath)
}

type recordingListener struct {
	mu        sync.Mutex
	relinked  [][]string
	configs   map[string]ResourceConfig
	manifests int
}

func (l *recordingListener) ResourcesRelinked(enabledPaths []string, _ map[string]ResourceConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.relinked = append(l.relinked, enabledPaths)
}

func (l *recordingListener) ResourceConfigChanged(name string, cfg ResourceConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.configs == nil {
		l.configs = make(map[string]ResourceConfig)
	}
	l.configs[name] = cfg
}

func (l *recordingListener) ManifestUpdated(*Manifest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manifests++
}

func (l *recordingListener) relinkCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.relinked)
}

func treeWith(root string, resources ...string) *fstree.Tree {
	paths := scanner.PathsMap{root: nil}
	for _, name := range resources {
		p := filepath.Join(root, name)
		paths[root] = append(paths[root], scanner.Entry{
			Path: p,
			Name: name,
			Kind: scanner.KindDirectory,
			Meta: map[string]any{"isResource": true},
		})
		paths[p] = nil
	}
	return fstree.NewTree(root, paths)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *countingFS, string) {
	t.Helper()
	root := t.TempDir()
	fsys := &countingFS{OSFS: vfs.NewOSFS()}
	path := filepath.Join(root, Filename)
	opts = append([]Option{WithPersistDelay(20 * time.Millisecond)}, opts...)
	m, err := Create(fsys, path, "demo", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	fsys.renames.Store(0)
	return m, fsys, root
}

func readManifest(t *testing.T, path string) *Manifest {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := Parse(data)
	require.NoError(t, err)
	return m
}

func TestCreate_WritesManifest(t *testing.T) {
	m, _, root := newTestManager(t)

	got := readManifest(t, m.Path())
	assert.Equal(t, "demo", got.Name)
	assert.Empty(t, got.Resources)
	assert.Equal(t, filepath.Join(root, Filename), m.Path())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(vfs.NewOSFS(), filepath.Join(t.TempDir(), Filename))

	var rerr *ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "load", rerr.Op)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReconcile_AddsAndRemoves(t *testing.T) {
	l := &recordingListener{}
	m, fsys, root := newTestManager(t, WithListener(l))
	ctx := context.Background()

	res, err := m.Reconcile(ctx, treeWith(root, "chat", "map"))
	require.NoError(t, err)
	assert.Equal(t, []string{"chat", "map"}, res.Added)
	assert.Empty(t, res.Removed)
	assert.Equal(t, []string{"chat", "map"}, m.ResourceNames())
	assert.Equal(t, DefaultResourceConfig(), m.ResourceConfig("chat"))

	enabled := true
	_, err = m.SetResourceConfig("chat", ConfigPatch{Enabled: &enabled})
	require.NoError(t, err)

	res, err = m.Reconcile(ctx, treeWith(root, "chat", "hud"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hud"}, res.Added)
	assert.Equal(t, []string{"map"}, res.Removed)
	assert.Equal(t, []string{filepath.Join(root, "chat")}, res.EnabledPaths)
	assert.True(t, m.ResourceConfig("chat").Enabled, "existing config survives")

	require.NoError(t, m.Flush())
	got := readManifest(t, m.Path())
	assert.Len(t, got.Resources, 2)
	assert.Contains(t, got.Resources, "hud")
	assert.Equal(t, 2, l.relinkCount())
	assert.GreaterOrEqual(t, fsys.renames.Load(), int32(1))
}

func TestReconcile_NoChangeSkipsPersistAndNotify(t *testing.T) {
	l := &recordingListener{}
	m, fsys, root := newTestManager(t, WithListener(l))
	ctx := context.Background()

	_, err := m.Reconcile(ctx, treeWith(root, "chat"))
	require.NoError(t, err)
	require.NoError(t, m.Flush())
	writes := fsys.renames.Load()

	res, err := m.Reconcile(ctx, treeWith(root, "chat"))
	require.NoError(t, err)
	assert.False(t, res.Changed())
	require.NoError(t, m.Flush())

	assert.Equal(t, writes, fsys.renames.Load())
	assert.Equal(t, 1, l.relinkCount())
}

func TestReconcile_IgnoresNonResourceDirectories(t *testing.T) {
	m, _, root := newTestManager(t)
	tree := treeWith(root, "chat")
	tree.PathsMap[root] = append(tree.PathsMap[root], scanner.Entry{
		Path: filepath.Join(root, "docs"),
		Name: "docs",
		Kind: scanner.KindDirectory,
	})

	_, err := m.Reconcile(context.Background(), tree)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat"}, m.ResourceNames())
}

// blockingListener holds the reconcile lock until released.
type blockingListener struct {
	recordingListener
	entered chan struct{}
	release chan struct{}
}

func (b *blockingListener) ResourcesRelinked(p []string, r map[string]ResourceConfig) {
	b.recordingListener.ResourcesRelinked(p, r)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
}

func TestReconcile_MutuallyExclusiveWithRename(t *testing.T) {
	bl := &blockingListener{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m, _, root := newTestManager(t, WithListener(bl))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.Reconcile(ctx, treeWith(root, "chat"))
		done <- err
	}()
	<-bl.entered

	renamed := make(chan error, 1)
	go func() { renamed <- m.RenameResource(ctx, "chat", "talk") }()

	select {
	case <-renamed:
		t.Fatal("rename ran while reconcile held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(bl.release)
	require.NoError(t, <-done)
	require.NoError(t, <-renamed)
	assert.Equal(t, []string{"talk"}, m.ResourceNames())
}

func TestReconcile_CancelledWhileWaiting(t *testing.T) {
	bl := &blockingListener{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m, _, root := newTestManager(t, WithListener(bl))

	go func() { _, _ = m.Reconcile(context.Background(), treeWith(root, "chat")) }()
	<-bl.entered
	defer close(bl.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Reconcile(ctx, treeWith(root, "chat"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetters_DebouncedIntoOneWrite(t *testing.T) {
	l := &recordingListener{}
	m, fsys, _ := newTestManager(t, WithListener(l))

	on := true
	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := m.SetResourceConfig(name, ConfigPatch{Enabled: &on})
		require.NoError(t, err)
	}
	require.NoError(t, m.SetPathsState([]byte(`{"x":1}`)))

	require.Eventually(t, func() bool { return fsys.renames.Load() == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fsys.renames.Load())

	got := readManifest(t, m.Path())
	assert.Len(t, got.Resources, 4)
	assert.JSONEq(t, `{"x":1}`, string(got.PathsState))
	assert.True(t, l.configs["c"].Enabled)
}

func TestSetResourcesEnabled(t *testing.T) {
	m, _, root := newTestManager(t)
	_, err := m.Reconcile(context.Background(), treeWith(root, "a", "b", "c"))
	require.NoError(t, err)

	require.NoError(t, m.SetResourcesEnabled([]string{"a", "c"}, true))

	assert.Equal(t, []string{filepath.Join(root, "a"), filepath.Join(root, "c")}, m.EnabledPaths())
}

func TestRenameAndDelete_WriteImmediately(t *testing.T) {
	m, fsys, root := newTestManager(t, WithPersistDelay(time.Hour))
	ctx := context.Background()
	_, err := m.Reconcile(ctx, treeWith(root, "chat", "map"))
	require.NoError(t, err)
	require.NoError(t, m.WriteNow())
	before := fsys.renames.Load()

	require.NoError(t, m.RenameResource(ctx, "chat", "talk"))
	assert.Equal(t, before+1, fsys.renames.Load())
	assert.Contains(t, readManifest(t, m.Path()).Resources, "talk")

	require.NoError(t, m.DeleteResource(ctx, "map"))
	assert.Equal(t, before+2, fsys.renames.Load())
	assert.NotContains(t, readManifest(t, m.Path()).Resources, "map")

	require.NoError(t, m.RenameResource(ctx, "talk", "talk2"))
	_, err = m.Reconcile(ctx, treeWith(root, "talk2", "other"))
	require.NoError(t, err)
	assert.ErrorIs(t, m.RenameResource(ctx, "talk2", "other"), ErrResourceExists)
}

func TestRename_UnknownIsNoop(t *testing.T) {
	m, fsys, _ := newTestManager(t)
	require.NoError(t, m.RenameResource(context.Background(), "ghost", "spirit"))
	require.NoError(t, m.DeleteResource(context.Background(), "ghost"))
	assert.Zero(t, fsys.renames.Load())
}

func TestWriteFailure_SurfacesReconcileError(t *testing.T) {
	m, fsys, _ := newTestManager(t)
	fsys.fail.Store(true)

	err := m.WriteNow()
	var rerr *ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "write", rerr.Op)

	on := true
	_, err = m.SetResourceConfig("a", ConfigPatch{Enabled: &on})
	require.NoError(t, err)
	require.ErrorAs(t, m.Flush(), &rerr)

	fsys.fail.Store(false)
	_, err = m.SetResourceConfig("a", ConfigPatch{Enabled: &on})
	require.NoError(t, err)
	assert.NoError(t, m.Flush())
}

func TestWriteNow_SingleFailureSurfaces(t *testing.T) {
	m, fsys, root := newTestManager(t)
	before := readManifest(t, filepath.Join(root, Filename))
	fsys.failNext.Store(1)

	err := m.WriteNow()
	var rerr *ReconcileError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "write", rerr.Op)
	assert.Zero(t, fsys.renames.Load(), "a failed write is not retried")
	assert.Equal(t, before.UpdatedAt, readManifest(t, filepath.Join(root, Filename)).UpdatedAt)

	require.NoError(t, m.WriteNow())
	assert.Equal(t, int32(1), fsys.renames.Load())
}

func TestClose_RejectsChanges(t *testing.T) {
	m, _, root := newTestManager(t)
	require.NoError(t, m.Close())

	_, err := m.SetResourceConfig("a", ConfigPatch{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Reconcile(context.Background(), treeWith(root, "a"))
	assert.ErrorIs(t, err, ErrClosed)
}
