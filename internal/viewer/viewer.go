// Package viewer implements the canvas peer: it polls the relay for frames
// and reconciles one drawing surface per painter.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronologos/pixelrelay/internal/logging"
	"github.com/chronologos/pixelrelay/internal/protocol"
	"github.com/chronologos/pixelrelay/internal/render"
	"github.com/chronologos/pixelrelay/internal/transport"
)

const DefaultPollInterval = time.Second

// Config holds viewer configuration.
type Config struct {
	Topology     protocol.Topology // TopologyMultiplex if empty
	PollInterval time.Duration     // DefaultPollInterval if zero
	Name         string            // optional name in the WhoAreYou response
	Logger       *slog.Logger
}

// Viewer is one canvas peer bound to one connection.
type Viewer struct {
	cfg     Config
	conn    transport.Conn
	session *Session
	rec     *Reconciler
	onFrame func()
	log     *slog.Logger
}

// New creates a viewer that paints onto renderer. Call Run to start it.
func New(conn transport.Conn, renderer render.Renderer, cfg Config) *Viewer {
	if cfg.Topology == "" {
		cfg.Topology = protocol.TopologyMultiplex
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "viewer", "topology", string(cfg.Topology))
	session := &Session{}
	return &Viewer{
		cfg:     cfg,
		conn:    conn,
		session: session,
		rec:     NewReconciler(renderer, session, logger),
		log:     logger,
	}
}

func (v *Viewer) Session() *Session       { return v.session }
func (v *Viewer) Reconciler() *Reconciler { return v.rec }

// OnFrame registers fn to run on the viewer's loop after each frame is
// applied. Set it before Run.
func (v *Viewer) OnFrame(fn func()) { v.onFrame = fn }

// Run polls and applies frames until ctx is cancelled or the connection
// fails. Surfaces are destroyed on return.
func (v *Viewer) Run(ctx context.Context) error {
	defer v.rec.Close()

	events := make(chan transport.Event, 8)
	done := make(chan struct{})
	defer close(done)
	go transport.ReadLoop(v.conn, events, done)

	poll := time.NewTicker(v.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case ev := <-events:
			if ev.Err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("viewer read: %w", ev.Err)
			}
			if err := v.HandleMessage(ev.Msg); err != nil {
				return err
			}

		case <-poll.C:
			if err := v.Poll(); err != nil {
				return err
			}

		case <-ctx.Done():
			v.conn.Close()
			return ctx.Err()
		}
	}
}

// Poll sends one PullRequest. A connection that is closed or not draining
// skips the tick with a warning; nothing is queued.
func (v *Viewer) Poll() error {
	if !v.conn.Ready() {
		v.log.Warn("skipping poll", "err", transport.ErrNotReady)
		return nil
	}
	err := transport.SendControl(v.conn, protocol.PullRequest{})
	if transport.Dropped(err) {
		v.log.Warn("skipping poll", "err", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("viewer write: %w", err)
	}
	return nil
}

// HandleMessage processes one inbound message. Bad frames and unknown control
// messages are logged and dropped; only a failed reply is returned.
func (v *Viewer) HandleMessage(msg protocol.Message) error {
	if msg.Kind == protocol.KindBinary {
		v.applyFrame(msg.Payload)
		return nil
	}

	ctl, err := protocol.DecodeControl(msg.Payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnrecognizedMessage) {
			v.log.Debug("ignoring control message", "err", err)
		} else {
			v.log.Warn("bad control message", "err", err)
		}
		return nil
	}

	switch m := ctl.(type) {
	case protocol.WhoAreYou:
		if !m.Query() {
			return nil
		}
		err := transport.SendControl(v.conn, protocol.WhoAreYou{Role: protocol.RoleCanvas, Name: v.cfg.Name})
		if transport.Dropped(err) {
			v.log.Warn("dropping reply", "err", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("viewer write: %w", err)
		}

	case protocol.Size:
		dims := m.Dimensions()
		v.log.Info("painter size", "dims", dims)
		v.rec.SetSize(dims)

	case protocol.ErrorNotice:
		v.log.Warn("relay warning", "error", m.Message, "naughty", m.Naughty, "final", m.Final)

	case protocol.PullRequest:
		v.log.Debug("ignoring pull request sent to viewer")
	}
	return nil
}

func (v *Viewer) applyFrame(payload []byte) {
	var err error
	switch v.cfg.Topology {
	case protocol.TopologySingle:
		err = v.rec.ApplySingle(payload)
	default:
		err = v.rec.ApplyMultiplex(payload)
	}
	if err != nil {
		v.log.Warn("discarding frame", "bytes", len(payload), "err", err)
		return
	}
	if v.onFrame != nil {
		v.onFrame()
	}
}
