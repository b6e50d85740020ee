package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_DefaultsToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "bogus", Format: "console", OutputPath: "stderr"}))
	assert.True(t, L().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, L().Core().Enabled(zapcore.DebugLevel))

	SetLevel("debug")
	assert.True(t, L().Core().Enabled(zapcore.DebugLevel))
	SetLevel("info")
}

func TestOrDefault(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	own := zap.NewNop()
	assert.Same(t, own, OrDefault(own, "x"))

	OrDefault(nil, "scanner").Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "scanner", logs.All()[0].LoggerName)
}
