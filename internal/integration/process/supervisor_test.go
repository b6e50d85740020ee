package process

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_SpawnCapturesOutputInDir(t *testing.T) {
	reg := newRegistry(t)
	sup := NewSupervisor(WithOutputRegistry(reg))
	defer sup.Shutdown(context.Background())

	dir := t.TempDir()
	h, err := sup.Spawn(context.Background(), Spec{
		Name:    "pwd",
		Command: "sh",
		Args:    []string{"-c", "pwd; echo $GREETING"},
		Dir:     dir,
		Env:     []string{"GREETING=hi"},
	}, Hooks{})
	require.NoError(t, err)
	require.NotEmpty(t, h.OutputChannelID())

	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	lines, ok := reg.Lines(h.OutputChannelID())
	require.True(t, ok)
	require.Len(t, lines, 2)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir, resolved}, lines[0].Content)
	assert.Equal(t, "hi", lines[1].Content)
}

func TestSupervisor_SpawnMissingCommand(t *testing.T) {
	sup := NewSupervisor()
	defer sup.Shutdown(context.Background())

	_, err := sup.Spawn(context.Background(), Spec{Name: "nope", Command: "definitely-not-a-command-xyz"}, Hooks{})
	assert.Error(t, err)
	assert.Zero(t, sup.Count())
}

func TestSupervisor_TracksUntilExit(t *testing.T) {
	exited := make(chan string, 1)
	sup := NewSupervisor(WithProcessExitCallback(func(p *Process) { exited <- p.Name }))
	defer sup.Shutdown(context.Background())

	proc, err := sup.Start("short", exec.Command("true"), Hooks{})
	require.NoError(t, err)
	assert.NotEmpty(t, proc.ID)

	select {
	case name := <-exited:
		assert.Equal(t, "short", name)
	case <-time.After(2 * time.Second):
		t.Fatal("exit callback not called")
	}
	assert.Eventually(t, func() bool { return sup.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSupervisor_MaxProcesses(t *testing.T) {
	sup := NewSupervisor(WithMaxProcesses(1))
	defer sup.Shutdown(context.Background())

	_, err := sup.Start("a", exec.Command("sleep", "10"), Hooks{})
	require.NoError(t, err)
	_, err = sup.Start("b", exec.Command("sleep", "10"), Hooks{})
	assert.ErrorIs(t, err, ErrProcessLimit)
}

func TestSupervisor_StopByID(t *testing.T) {
	sup := NewSupervisor(WithStopTimeout(200 * time.Millisecond))
	defer sup.Shutdown(context.Background())

	proc, err := sup.Start("sleep", exec.Command("sleep", "10"), Hooks{})
	require.NoError(t, err)

	require.NoError(t, sup.Stop(context.Background(), proc.ID))
	assert.True(t, proc.HasExited())
	assert.ErrorIs(t, sup.Stop(context.Background(), "missing"), ErrProcessNotFound)
}

func TestSupervisor_Shutdown(t *testing.T) {
	sup := NewSupervisor(WithStopTimeout(200 * time.Millisecond))
	for i := 0; i < 3; i++ {
		_, err := sup.Start("sleep", exec.Command("sleep", "10"), Hooks{})
		require.NoError(t, err)
	}
	require.Equal(t, 3, sup.Count())

	sup.Shutdown(context.Background())

	assert.Zero(t, sup.Count())
	assert.True(t, sup.IsShuttingDown())
	select {
	case <-sup.ShutdownChan():
	default:
		t.Error("shutdown channel should be closed")
	}

	_, err := sup.Start("late", exec.Command("true"), Hooks{})
	assert.ErrorIs(t, err, ErrSupervisorShutdown)
	sup.Shutdown(context.Background())
}
