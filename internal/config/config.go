// Package config loads pixelrelay settings from defaults, a pixelrelay.yaml
// file, PIXELRELAY_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chronologos/pixelrelay/internal/logging"
	"github.com/chronologos/pixelrelay/internal/protocol"
	"github.com/chronologos/pixelrelay/internal/relay"
)

const (
	EnvPrefix  = "PIXELRELAY"
	configName = "pixelrelay"
)

// configPaths are searched in order for pixelrelay.yaml.
var configPaths = []string{
	".",
	"$HOME/.pixelrelay",
	"/etc/pixelrelay",
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Relay struct {
	Listen       string        `mapstructure:"listen"`      // WebSocket address
	Path         string        `mapstructure:"path"`        // WebSocket upgrade path
	QUICListen   string        `mapstructure:"quic_listen"` // empty disables QUIC
	TCPListen    string        `mapstructure:"tcp_listen"`  // empty disables TCP+TLS
	Metrics      bool          `mapstructure:"metrics"`     // serve /metrics next to the WebSocket
	CellSize     int           `mapstructure:"cell_size"`
	MaxPainters  int           `mapstructure:"max_painters"`
	NaughtyLimit int           `mapstructure:"naughty_limit"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Topology     string        `mapstructure:"topology"`
}

type Painter struct {
	RelayURL string        `mapstructure:"relay_url"`
	Name     string        `mapstructure:"name"`
	Link     string        `mapstructure:"link"` // advertised as the WhoAreYou url
	Tick     time.Duration `mapstructure:"tick"`
}

type Viewer struct {
	RelayURL     string        `mapstructure:"relay_url"`
	Name         string        `mapstructure:"name"`
	Topology     string        `mapstructure:"topology"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Output       string        `mapstructure:"output"` // terminal or png
	PNGDir       string        `mapstructure:"png_dir"`
	Columns      int           `mapstructure:"columns"`
}

// Config is the whole file. Each subcommand reads its own section plus Log.
type Config struct {
	Log     Log     `mapstructure:"log"`
	Relay   Relay   `mapstructure:"relay"`
	Painter Painter `mapstructure:"painter"`
	Viewer  Viewer  `mapstructure:"viewer"`
}

// New returns a viper instance with defaults and environment binding set up.
// Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("relay.listen", ":8080")
	v.SetDefault("relay.path", "/")
	v.SetDefault("relay.quic_listen", "")
	v.SetDefault("relay.tcp_listen", "")
	v.SetDefault("relay.metrics", true)
	v.SetDefault("relay.cell_size", relay.DefaultCellSize)
	v.SetDefault("relay.max_painters", relay.MaxPainters)
	v.SetDefault("relay.naughty_limit", relay.DefaultNaughtyLimit)
	v.SetDefault("relay.poll_interval", relay.DefaultPollInterval)
	v.SetDefault("relay.topology", string(protocol.TopologySingle))

	v.SetDefault("painter.relay_url", "ws://localhost:8080/")
	v.SetDefault("painter.name", "")
	v.SetDefault("painter.link", "")
	v.SetDefault("painter.tick", time.Second)

	v.SetDefault("viewer.relay_url", "ws://localhost:8080/")
	v.SetDefault("viewer.name", "")
	v.SetDefault("viewer.topology", string(protocol.TopologySingle))
	v.SetDefault("viewer.poll_interval", time.Second)
	v.SetDefault("viewer.output", "terminal")
	v.SetDefault("viewer.png_dir", "frames")
	v.SetDefault("viewer.columns", 80)

	// relay.cell_size <- PIXELRELAY_RELAY_CELL_SIZE
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	return v
}

// Load reads the config file (file, or the search path when empty) and
// decodes everything into a Config. A missing file on the search path is not
// an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}

	if c.Relay.MaxPainters < 1 || c.Relay.MaxPainters > relay.MaxPainters {
		return fmt.Errorf("relay.max_painters: %d not in 1..%d", c.Relay.MaxPainters, relay.MaxPainters)
	}
	// The composite side must fit a u16 frame header.
	if c.Relay.CellSize < 1 || c.Relay.CellSize*8 > 0xffff {
		return fmt.Errorf("relay.cell_size: %d out of range", c.Relay.CellSize)
	}
	if c.Relay.NaughtyLimit < 1 {
		return fmt.Errorf("relay.naughty_limit: must be positive")
	}
	topology, err := protocol.ParseTopology(c.Relay.Topology)
	if err != nil {
		return fmt.Errorf("relay.topology: %w", err)
	}
	// Every frame must fit one transport message.
	if size := relay.MaxFrameSize(c.Relay.CellSize, c.Relay.MaxPainters, topology); size > protocol.MaxPayloadSize {
		return fmt.Errorf("relay.cell_size: %d with %d painters needs %d-byte %s frames, limit is %d",
			c.Relay.CellSize, c.Relay.MaxPainters, size, topology, protocol.MaxPayloadSize)
	}
	if _, err := protocol.ParseTopology(c.Viewer.Topology); err != nil {
		return fmt.Errorf("viewer.topology: %w", err)
	}
	switch c.Viewer.Output {
	case "terminal", "png":
	default:
		return fmt.Errorf("viewer.output: unknown output %q (want terminal or png)", c.Viewer.Output)
	}
	for name, d := range map[string]time.Duration{
		"relay.poll_interval":  c.Relay.PollInterval,
		"painter.tick":         c.Painter.Tick,
		"viewer.poll_interval": c.Viewer.PollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", name, d)
		}
	}
	return nil
}
