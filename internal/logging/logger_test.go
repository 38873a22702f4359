package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_JSONRenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, slog.LevelInfo, FormatJSON)

	logger.Info("boom", "error", errors.New("disk full"))
	logger.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["msg"])
	assert.Equal(t, "disk full", line["err"])
	assert.NotContains(t, line, "error")
}

func TestNewWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, slog.LevelDebug, FormatText).Debug("hello", "session_id", "s1")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "session_id=s1")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	level, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
