package process

import (
	"context"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/assetsync/internal/integration/output"
)

func newRegistry(t *testing.T) *output.Registry {
	t.Helper()
	reg, err := output.NewRegistry(8)
	require.NoError(t, err)
	return reg
}

func TestNewProcess(t *testing.T) {
	proc := NewProcess("id", "echo", exec.Command("echo", "hello"), nil, Hooks{})

	assert.Equal(t, StateCreated, proc.State())
	assert.Equal(t, -1, proc.ExitCode())
	assert.Equal(t, -1, proc.PID())
	assert.False(t, proc.IsRunning())
	assert.False(t, proc.HasExited())
	assert.Empty(t, proc.OutputChannelID())
	assert.Zero(t, proc.Runtime())
}

func TestProcess_StartTwice(t *testing.T) {
	proc := NewProcess("id", "true", exec.Command("true"), nil, Hooks{})
	require.NoError(t, proc.start())
	assert.ErrorIs(t, proc.start(), ErrProcessAlreadyStarted)
	<-proc.Done()
	assert.Equal(t, StateExited, proc.State())
}

func TestProcess_CapturesOutput(t *testing.T) {
	reg := newRegistry(t)
	ch := reg.Open("echo")
	var closedWith atomic.Int32
	closedWith.Store(-2)

	cmd := exec.Command("sh", "-c", "echo out; echo err >&2; printf tail")
	proc := NewProcess("id", "echo", cmd, ch, Hooks{
		OnClose: func(code int) { closedWith.Store(int32(code)) },
	})
	require.NoError(t, proc.start())

	code, err := proc.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Eventually(t, func() bool { return closedWith.Load() == 0 }, time.Second, 5*time.Millisecond)

	var got []string
	for _, l := range ch.Lines() {
		got = append(got, l.Stream.String()+":"+l.Content)
	}
	assert.ElementsMatch(t, []string{"stdout:out", "stderr:err", "stdout:tail"}, got)
}

func TestProcess_CrashReportsError(t *testing.T) {
	var errs atomic.Int32
	var closed atomic.Int32
	proc := NewProcess("id", "fail", exec.Command("sh", "-c", "exit 3"), nil, Hooks{
		OnError: func(error) { errs.Add(1) },
		OnClose: func(int) { closed.Add(1) },
	})
	require.NoError(t, proc.start())

	code, err := proc.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), errs.Load())
	assert.Error(t, proc.ExitError())
}

func TestProcess_StopIsNotAnError(t *testing.T) {
	var errs atomic.Int32
	proc := NewProcess("id", "sleep", exec.Command("sleep", "10"), nil, Hooks{
		OnError: func(error) { errs.Add(1) },
	})
	require.NoError(t, proc.start())

	start := time.Now()
	require.NoError(t, proc.Stop(context.Background(), time.Second))
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, proc.HasExited())
	assert.Equal(t, StateKilled, proc.State())
	assert.Zero(t, errs.Load())

	assert.NoError(t, proc.Stop(context.Background(), time.Second), "stop after exit")
}

func TestProcess_StopEscalatesToKill(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 10")
	proc := NewProcess("id", "stubborn", cmd, nil, Hooks{})
	require.NoError(t, proc.start())
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, proc.Stop(context.Background(), 100*time.Millisecond))
	assert.True(t, proc.HasExited())
}

func TestProcess_WaitHonorsContext(t *testing.T) {
	proc := NewProcess("id", "sleep", exec.Command("sleep", "10"), nil, Hooks{})
	require.NoError(t, proc.start())
	defer proc.Stop(context.Background(), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := proc.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "exited", StateExited.String())
	assert.Equal(t, "killed", StateKilled.String())
	assert.Equal(t, "unknown(9)", State(9).String())
}
