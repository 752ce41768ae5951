package qlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextHandler_CompactLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTextHandler(&buf, nil))

	logger.Info("sending query request", "attempt", 0)

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "sending query request")
	assert.Contains(t, out, "attempt=0")
	// the default time/level/msg attrs are suppressed from the trailing
	// key=value list; only the prefix carries them.
	assert.NotContains(t, out, "msg=")
	assert.NotContains(t, out, "time=")
}

func TestNewFromEnv(t *testing.T) {
	var buf bytes.Buffer

	logger := NewFromEnv(func(string) (string, bool) { return "", false }, &buf)
	assert.Nil(t, logger)

	logger = NewFromEnv(func(key string) (string, bool) {
		require.Equal(t, "GOCBANALYTICS_DEBUG", key)
		return "1", true
	}, &buf)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = NewFromEnv(func(string) (string, bool) { return "True", true }, &buf)
	assert.NotNil(t, logger, "matching is case-insensitive")

	logger = NewFromEnv(func(string) (string, bool) { return "off", true }, &buf)
	assert.Nil(t, logger)
}
