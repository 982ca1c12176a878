package logger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestNewWritesFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Level:      "debug",
		Outputs:    []string{"file"},
		OutputFile: filepath.Join(dir, "run.log"),
		ErrorFile:  filepath.Join(dir, "errors.log"),
		Format:     "json",
	})
	require.NoError(t, err)
	l.Info("hello")
	l.LogError(errors.New("boom"), nil)
	require.NoError(t, l.Close())
	assert.FileExists(t, filepath.Join(dir, "run.log"))
	assert.FileExists(t, filepath.Join(dir, "errors.log"))
}

func TestEventsCarryVirtualTime(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core))
	vt := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

	l.LogOrder("filled", 7, vt, map[string]interface{}{"symbol": "EURUSD"})
	l.LogReject(errors.New("lots below minimum"), vt, nil)
	l.LogTrade("run_end", time.Time{}, nil)

	entries := logs.All()
	require.Len(t, entries, 3)

	order := entries[0].ContextMap()
	assert.Equal(t, "order_event", entries[0].Message)
	assert.Equal(t, "filled", order["event"])
	assert.Equal(t, int64(7), order["ticket"])
	assert.Equal(t, "2024-03-04 08:00:00", order["vt"])
	assert.Equal(t, "EURUSD", order["symbol"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "lots below minimum", entries[1].ContextMap()["reason"])

	assert.Equal(t, "", entries[2].ContextMap()["vt"])
}

func TestWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := Wrap(zap.New(core)).WithFields(map[string]interface{}{"run_id": "abc"})
	l.Info("x")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "abc", logs.All()[0].ContextMap()["run_id"])
}
