package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	return buf, func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Run("debug level shows everything", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("warn level hides debug and info", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")
		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("invalid level is ignored", func(t *testing.T) {
		SetLevel("INFO")
		SetLevel("NOT_A_LEVEL")
		assert.Equal(t, LevelInfo, Level(currentLevel.Load()))
	})
}

func TestFormatSwitching(t *testing.T) {
	t.Run("json format produces valid JSON lines", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetFormat("json")
		SetLevel("INFO")
		Info("hello", Volume("v1"), Index(3))

		line := strings.TrimSpace(buf.String())
		var parsed map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &parsed))
		assert.Equal(t, "hello", parsed["msg"])
		assert.Equal(t, "v1", parsed[KeyVolume])
	})

	t.Run("invalid format is ignored", func(t *testing.T) {
		SetFormat("text")
		SetFormat("xml")
		format, _ := currentFormat.Load().(string)
		assert.Equal(t, "text", format)
	})
}

func TestLogContext(t *testing.T) {
	t.Run("NewLogContext sets fields", func(t *testing.T) {
		lc := NewLogContext("req-1", "volA", "MAPW")
		assert.Equal(t, "req-1", lc.RequestID)
		assert.Equal(t, "volA", lc.Volume)
		assert.Equal(t, "MAPW", lc.Op)
		assert.False(t, lc.StartTime.IsZero())
	})

	t.Run("Clone is independent", func(t *testing.T) {
		lc := NewLogContext("req-1", "volA", "MAPW")
		clone := lc.Clone()
		clone.Op = "MAPR"
		assert.Equal(t, "MAPW", lc.Op)
		assert.Equal(t, "MAPR", clone.Op)
	})

	t.Run("FromContext round-trips via WithContext", func(t *testing.T) {
		lc := NewLogContext("req-2", "volB", "INFO")
		ctx := WithContext(context.Background(), lc)
		got := FromContext(ctx)
		require.NotNil(t, got)
		assert.Equal(t, "req-2", got.RequestID)
	})

	t.Run("FromContext on plain context returns nil", func(t *testing.T) {
		assert.Nil(t, FromContext(context.Background()))
	})
}

func TestContextAwareLogging(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	SetLevel("INFO")

	lc := NewLogContext("req-3", "volC", "MAPR")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "translating request", Index(1))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "req-3", parsed[KeyRequestID])
	assert.Equal(t, "volC", parsed[KeyVolume])
	assert.Equal(t, "MAPR", parsed[KeyOp])
}

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, KeyVolume, Volume("x").Key)
	assert.Equal(t, KeyIndex, Index(1).Key)
	assert.Equal(t, KeyOp, Op("MAPR").Key)
	assert.Equal(t, KeyObject, Object("abc").Key)
	assert.Equal(t, KeyOffset, Offset(1).Key)
	assert.Equal(t, KeySize, Size(1).Key)
	assert.Equal(t, KeyHandle, Handle("h").Key)
	assert.Equal(t, KeyRequestID, RequestID("r").Key)
	assert.Equal(t, KeyError, Err(assert.AnError).Key)
}
