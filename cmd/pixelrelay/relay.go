package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/chronologos/pixelrelay/internal/protocol"
	"github.com/chronologos/pixelrelay/internal/relay"
	"github.com/chronologos/pixelrelay/internal/transport"
	"github.com/chronologos/pixelrelay/internal/version"
)

func relayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay that painters and viewers connect to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context) error { return runRelay(ctx, a) })
		},
	}

	f := cmd.Flags()
	f.String("listen", ":8080", "WebSocket listen address")
	f.String("path", "/", "WebSocket upgrade path")
	f.String("quic", "", "QUIC listen address (empty disables)")
	f.String("tcp", "", "TCP+TLS listen address (empty disables)")
	f.Bool("metrics", true, "serve Prometheus metrics at /metrics on the WebSocket listener")
	f.Int("cell", relay.DefaultCellSize, "painter buffer side in pixels")
	f.Int("max-painters", relay.MaxPainters, "painters allowed on the canvas")
	f.Int("naughty-limit", relay.DefaultNaughtyLimit, "warnings before a client is disconnected")
	f.Duration("poll", relay.DefaultPollInterval, "painter poll interval")
	f.String("topology", string(protocol.TopologySingle), "canvas frame format: single or multiplex")
	for flag, key := range map[string]string{
		"listen":        "relay.listen",
		"path":          "relay.path",
		"quic":          "relay.quic_listen",
		"tcp":           "relay.tcp_listen",
		"metrics":       "relay.metrics",
		"cell":          "relay.cell_size",
		"max-painters":  "relay.max_painters",
		"naughty-limit": "relay.naughty_limit",
		"poll":          "relay.poll_interval",
		"topology":      "relay.topology",
	} {
		a.v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func runRelay(ctx context.Context, a *app) error {
	rc := a.cfg.Relay
	log := a.log

	var metrics *relay.Metrics
	extra := map[string]http.Handler{}
	if rc.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = relay.NewMetrics(reg)
		extra["/metrics"] = relay.Handler(reg)
	}

	ws, err := transport.ListenWebSocket(rc.Listen, rc.Path, extra, log)
	if err != nil {
		return err
	}
	listeners := []transport.Listener{ws}
	log.Info("websocket listening", "addr", ws.Addr(), "path", rc.Path, "metrics", rc.Metrics)

	if rc.QUICListen != "" || rc.TCPListen != "" {
		// QUIC and TCP share one certificate.
		cert, err := transport.NewRelayCert(rc.QUICListen, rc.TCPListen)
		if err != nil {
			ws.Close()
			return fmt.Errorf("generate TLS cert: %w", err)
		}
		if fp, err := transport.CertFingerprint(cert); err == nil {
			log.Info("tls certificate", "sha256", fp)
		}
		if rc.QUICListen != "" {
			q, err := transport.ListenQUICWithCert(rc.QUICListen, cert)
			if err != nil {
				closeAll(listeners)
				return err
			}
			listeners = append(listeners, q)
			log.Info("quic listening", "addr", q.Addr())
		}
		if rc.TCPListen != "" {
			tl, err := transport.ListenTCPWithCert(rc.TCPListen, cert)
			if err != nil {
				closeAll(listeners)
				return err
			}
			listeners = append(listeners, tl)
			log.Info("tcp+tls listening", "addr", tl.Addr())
		}
	}

	ln := transport.Fanin(listeners...)
	defer ln.Close()

	topology, _ := protocol.ParseTopology(rc.Topology)
	hub := relay.New(relay.Config{
		CellSize:     rc.CellSize,
		MaxPainters:  rc.MaxPainters,
		PollInterval: rc.PollInterval,
		NaughtyLimit: rc.NaughtyLimit,
		Topology:     topology,
		Logger:       log,
		Metrics:      metrics,
	})
	log.Info("pixelrelay relay starting", "version", version.String())
	return hub.Serve(ctx, ln)
}

func closeAll(listeners []transport.Listener) {
	for _, l := range listeners {
		l.Close()
	}
}
