package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chronologos/pixelrelay/internal/painter"
	"github.com/chronologos/pixelrelay/internal/transport"
)

func painterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "painter",
		Short: "Connect to a relay as a painter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context) error { return runPainter(ctx, a) })
		},
	}

	f := cmd.Flags()
	f.String("relay", "ws://localhost:8080/", "relay URL (ws://, wss://, quic://, tls://)")
	f.String("name", "", "display name (default: hostname)")
	f.String("link", "", "URL advertised next to the name")
	f.Duration("tick", painter.DefaultTick, "mutation interval")
	a.v.BindPFlag("painter.relay_url", f.Lookup("relay"))
	a.v.BindPFlag("painter.name", f.Lookup("name"))
	a.v.BindPFlag("painter.link", f.Lookup("link"))
	a.v.BindPFlag("painter.tick", f.Lookup("tick"))
	return cmd
}

func runPainter(ctx context.Context, a *app) error {
	pc := a.cfg.Painter
	name := pc.Name
	if name == "" {
		name, _ = os.Hostname()
	}

	conn, err := transport.Dial(ctx, pc.RelayURL)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", pc.RelayURL, err)
	}
	defer conn.Close()
	a.log.Info("painter connected", "relay", pc.RelayURL, "name", name)

	p := painter.New(conn, painter.Config{
		Name:   name,
		URL:    pc.Link,
		Tick:   pc.Tick,
		Logger: a.log,
	})
	return p.Run(ctx)
}
