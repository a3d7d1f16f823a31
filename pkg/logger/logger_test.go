package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/restaker/pkg/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, logger.ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel("nonsense"), "unknown levels default to info")
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("it writes JSON records with the component attribute", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		log := logger.ForComponent(logger.NewFromConfig(logger.Config{LogLevel: "info", Output: &buf}), "populator")

		// Act
		log.Info("Run started", slog.String("runID", "abc"))

		// Assert
		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "Run started", entry["msg"])
		assert.Equal(t, "populator", entry["component"])
		assert.Equal(t, "abc", entry["runID"])
	})

	t.Run("it filters records below the configured level", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		log := logger.NewFromConfig(logger.Config{LogLevel: "warn", Output: &buf})

		// Act
		log.Info("hidden")
		log.Warn("visible")

		// Assert
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("it writes human friendly text when requested", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var buf bytes.Buffer
		log := logger.NewFromConfig(logger.Config{LogLevel: "info", LogHumanFriendly: true, Output: &buf})

		// Act
		log.Info("hello")

		// Assert
		assert.True(t, strings.HasPrefix(buf.String(), "time="), buf.String())
		assert.Contains(t, buf.String(), "msg=hello")
	})
}
