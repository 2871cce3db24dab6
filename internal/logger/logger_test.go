package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(level zapcore.Level) *observer.ObservedLogs {
	core, logs := observer.New(level)
	New(core)
	return logs
}

func TestInit(t *testing.T) {
	Init("debug")
	assert.NotNil(t, log)
}

func TestInfo(t *testing.T) {
	logs := observe(zapcore.InfoLevel)

	Info("test message", "session_id", "s-1")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "test message", entry.Message)
	assert.Equal(t, "s-1", entry.ContextMap()["session_id"])
}

func TestError(t *testing.T) {
	logs := observe(zapcore.InfoLevel)

	Error("test error")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
}

func TestDebug_FilteredByLevel(t *testing.T) {
	logs := observe(zapcore.InfoLevel)
	Debug("hidden")
	assert.Equal(t, 0, logs.Len())

	logs = observe(zapcore.DebugLevel)
	Debugf("test %s", "debug")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "test debug", logs.All()[0].Message)
}

func TestInfof(t *testing.T) {
	logs := observe(zapcore.InfoLevel)

	Infof("test %s", "message")

	assert.Equal(t, "test message", logs.All()[0].Message)
}

func TestWithError(t *testing.T) {
	logs := observe(zapcore.InfoLevel)

	WithError(assert.AnError).Info("test with error")

	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].ContextMap()["error"], assert.AnError.Error())
}

func TestWithFields(t *testing.T) {
	logs := observe(zapcore.InfoLevel)

	WithFields(map[string]interface{}{"key1": "value1", "key2": 123}).Info("test with fields")

	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "value1", ctx["key1"])
	assert.EqualValues(t, 123, ctx["key2"])
}
