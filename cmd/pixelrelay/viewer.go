package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chronologos/pixelrelay/internal/protocol"
	"github.com/chronologos/pixelrelay/internal/render"
	"github.com/chronologos/pixelrelay/internal/transport"
	"github.com/chronologos/pixelrelay/internal/viewer"
)

func viewerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Connect to a relay as a canvas and draw what it serves",
		Long: `viewer polls the relay for frames and draws every painter's buffer.

With --output terminal (the default) frames are drawn with half-block
characters in truecolor. With --output png every painter's buffer is
rewritten to --png-dir as painter-<id>.png after each frame.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context) error { return runViewer(ctx, a) })
		},
	}

	f := cmd.Flags()
	f.String("relay", "ws://localhost:8080/", "relay URL (ws://, wss://, quic://, tls://)")
	f.String("name", "", "name sent to the relay")
	f.String("topology", string(protocol.TopologySingle), "frame format the relay serves: single or multiplex")
	f.Duration("poll", viewer.DefaultPollInterval, "pull interval")
	f.String("output", "terminal", "terminal or png")
	f.String("png-dir", "frames", "directory for --output png")
	f.Int("columns", 80, "maximum terminal columns per surface")
	for flag, key := range map[string]string{
		"relay":    "viewer.relay_url",
		"name":     "viewer.name",
		"topology": "viewer.topology",
		"poll":     "viewer.poll_interval",
		"output":   "viewer.output",
		"png-dir":  "viewer.png_dir",
		"columns":  "viewer.columns",
	} {
		a.v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func runViewer(ctx context.Context, a *app) error {
	vc := a.cfg.Viewer
	topology, _ := protocol.ParseTopology(vc.Topology)

	var (
		renderer render.Renderer
		mem      *render.Memory
	)
	switch vc.Output {
	case "png":
		mem = render.NewMemory()
		renderer = mem
	default:
		renderer = render.NewTerminal(os.Stdout, render.WithColumns(vc.Columns), render.WithClearScreen())
	}

	conn, err := transport.Dial(ctx, vc.RelayURL)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", vc.RelayURL, err)
	}
	defer conn.Close()
	a.log.Info("viewer connected", "relay", vc.RelayURL, "topology", topology)

	v := viewer.New(conn, renderer, viewer.Config{
		Topology:     topology,
		PollInterval: vc.PollInterval,
		Name:         vc.Name,
		Logger:       a.log,
	})

	if mem != nil {
		v.OnFrame(func() {
			if err := mem.WritePNGs(vc.PNGDir); err != nil {
				a.log.Warn("writing PNGs", "dir", vc.PNGDir, "err", err)
			}
		})
	}
	return v.Run(ctx)
}
