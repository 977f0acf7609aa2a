package config

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleHandlerColorsLevelTag(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo))

	logger.Info("queued", "task", 3)
	logger.Error("fetch failed")

	out := buf.String()
	assert.Contains(t, out, ansiGreen)
	assert.Contains(t, out, ansiRed)
	assert.Contains(t, out, ansiReset)
	assert.Contains(t, out, "queued")
	assert.Contains(t, out, "task=3")
}

func TestConsoleHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelWarn))

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, ansiYellow)
}

func TestConsoleHandlerAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(newConsoleHandler(&buf, slog.LevelInfo))

	logger := base.With("component", "queue").WithGroup("dl")
	logger.Info("progress", "pct", 50)

	out := buf.String()
	assert.Contains(t, out, "component=queue")
	assert.Contains(t, out, "dl.pct=50")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestConsoleHandlerEnabled(t *testing.T) {
	h := newConsoleHandler(&bytes.Buffer{}, slog.LevelInfo)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
}

func TestInitLoggerConsoleWhenNoFile(t *testing.T) {
	// An empty file path means console logging; no directory is created.
	logger, err := InitLogger(&LoggingConfig{Level: "debug", Format: "text"})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}
