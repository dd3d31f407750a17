package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapAdapter(t *testing.T) {
	t.Run("basic logging", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
		require.NoError(t, err)

		logger.Debug("debug message", String("key", "value"))
		logger.Info("info message", Int("count", 42))
		logger.Warn("warn message", Bool("enabled", true))
		logger.Error("error message", errors.New("test error"), String("message_key", "error.templateNull"))

		output := buf.String()
		assert.Contains(t, output, "DEBUG")
		assert.Contains(t, output, "debug message")
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "WARN")
		assert.Contains(t, output, "ERROR")
		assert.Contains(t, output, "test error")
		assert.Contains(t, output, "error.templateNull")
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
		require.NoError(t, err)

		logger.Debug("hidden debug")
		logger.Info("hidden info")
		logger.Warn("visible warn")

		output := buf.String()
		assert.NotContains(t, output, "hidden")
		assert.Contains(t, output, "visible warn")
	})

	t.Run("json format with fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Format: FormatJSON, Output: &buf})
		require.NoError(t, err)

		logger.WithFields(String("service", "task-router")).Info("dispatched", String("subject", "SEND_SMS"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
		assert.Equal(t, "dispatched", entry["msg"])
		assert.Equal(t, "task-router", entry["service"])
		assert.Equal(t, "SEND_SMS", entry["subject"])
		assert.Equal(t, "INFO", entry["level"])
	})

	t.Run("context identifiers", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Format: FormatJSON, Output: &buf})
		require.NoError(t, err)

		ctx := ContextWith(context.Background(), TaskIDKey, "task-1")
		ctx = ContextWith(ctx, EventIDKey, "evt-9")
		logger.WithContext(ctx).Info("with context")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
		assert.Equal(t, "task-1", entry["task_id"])
		assert.Equal(t, "evt-9", entry["event_id"])
		assert.NotContains(t, entry, "request_id")
	})

	t.Run("context without identifiers returns same logger", func(t *testing.T) {
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &bytes.Buffer{}})
		require.NoError(t, err)
		assert.Same(t, logger, logger.WithContext(context.Background()))
		assert.Same(t, logger, logger.WithFields())
	})
}
