package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Relay.Listen)
	assert.Equal(t, 40, cfg.Relay.CellSize)
	assert.Equal(t, 64, cfg.Relay.MaxPainters)
	assert.Equal(t, 50, cfg.Relay.NaughtyLimit)
	assert.Equal(t, time.Second, cfg.Relay.PollInterval)
	assert.Equal(t, "single", cfg.Relay.Topology)
	assert.True(t, cfg.Relay.Metrics)
	assert.Equal(t, time.Second, cfg.Painter.Tick)
	assert.Equal(t, "terminal", cfg.Viewer.Output)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PIXELRELAY_RELAY_CELL_SIZE", "20")
	t.Setenv("PIXELRELAY_RELAY_POLL_INTERVAL", "250ms")
	t.Setenv("PIXELRELAY_VIEWER_TOPOLOGY", "multiplex")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Relay.CellSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.PollInterval)
	assert.Equal(t, "multiplex", cfg.Viewer.Topology)
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixelrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  format: json
relay:
  listen: 127.0.0.1:9000
  quic_listen: 127.0.0.1:9001
  topology: multiplex
painter:
  name: alice
  tick: 100ms
`), 0o644))
	t.Setenv("PIXELRELAY_PAINTER_NAME", "bob")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9000", cfg.Relay.Listen)
	assert.Equal(t, "127.0.0.1:9001", cfg.Relay.QUICListen)
	assert.Equal(t, "multiplex", cfg.Relay.Topology)
	assert.Equal(t, 100*time.Millisecond, cfg.Painter.Tick)
	assert.Equal(t, "bob", cfg.Painter.Name, "environment beats the file")
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		key   string
		value any
	}{
		{"relay.topology", "both"},
		{"viewer.topology", ""},
		{"relay.cell_size", 0},
		{"relay.cell_size", 9000},
		{"relay.max_painters", 65},
		{"relay.naughty_limit", 0},
		{"relay.poll_interval", "0s"},
		{"viewer.output", "sixel"},
		{"log.level", "loud"},
		{"log.format", "xml"},
	}
	for _, tt := range tests {
		v := New()
		v.Set(tt.key, tt.value)
		_, err := Load(v, "")
		assert.Error(t, err, "%s=%v", tt.key, tt.value)
	}
}

func TestValidateFrameSize(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
	}{
		{"default", nil, false},
		{"largest single canvas", map[string]any{"relay.cell_size": 255}, false},
		{"single canvas too large", map[string]any{"relay.cell_size": 256}, true},
		{"multiplex canvas too large", map[string]any{"relay.cell_size": 256, "relay.topology": "multiplex"}, true},
		{"one large painter", map[string]any{"relay.cell_size": 2047, "relay.max_painters": 1}, false},
		{"painter frame too large", map[string]any{"relay.cell_size": 2100, "relay.max_painters": 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			for k, val := range tt.settings {
				v.Set(k, val)
			}
			_, err := Load(v, "")
			if tt.wantErr {
				assert.ErrorContains(t, err, "relay.cell_size")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
