package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chronologos/pixelrelay/internal/config"
	"github.com/chronologos/pixelrelay/internal/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	log        *slog.Logger
}

// load reads configuration and builds the logger. Runs before each
// subcommand, after cobra has parsed the flags bound to v.
func (a *app) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	return nil
}

// run executes fn until SIGINT or SIGTERM. Cancellation is a clean exit.
func run(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "pixelrelay",
		Short: "Shared pixel canvas: painters draw, viewers watch, a relay connects them",
		Long: `pixelrelay runs one of three roles:

  relay    accepts painters and canvases, polls painters for pixels and
           serves the combined canvas
  painter  owns a small pixel buffer and scribbles on it
  viewer   polls the relay and draws every painter's buffer

Settings come from pixelrelay.yaml (., $HOME/.pixelrelay, /etc/pixelrelay),
PIXELRELAY_* environment variables and flags, later sources winning.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: search for pixelrelay.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	a.v.BindPFlag("log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		relayCmd(a),
		painterCmd(a),
		viewerCmd(a),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pixelrelay: %v\n", err)
		os.Exit(1)
	}
}
