package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "json", "warn")
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "component", "relay")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"relay"`)
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "", "DEBUG")
	require.NoError(t, err)

	log.Debug("tick", "n", 1)
	assert.Contains(t, buf.String(), "msg=tick")
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "xml", "info")
	require.Error(t, err)

	_, err = New(&bytes.Buffer{}, "text", "loud")
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	lvl, err = ParseLevel("error")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, lvl)
}

func TestDiscard(t *testing.T) {
	log := Discard().With("component", "x")
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}
