// Package painter implements the painter peer: it owns one pixel buffer,
// scribbles on it over time and serves it to the relay on request.
package painter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/chronologos/pixelrelay/internal/logging"
	"github.com/chronologos/pixelrelay/internal/protocol"
	"github.com/chronologos/pixelrelay/internal/transport"
)

const DefaultTick = time.Second

// State of a painter's buffer.
type State int

const (
	Uninitialized State = iota // no Size received, buffer is 0x0
	Sized
)

func (s State) String() string {
	if s == Sized {
		return "sized"
	}
	return "uninitialized"
}

// Config holds painter configuration.
type Config struct {
	Name   string        // display name sent in the WhoAreYou response
	URL    string        // optional link sent in the WhoAreYou response
	Tick   time.Duration // mutation interval; DefaultTick if zero
	Rand   *rand.Rand    // nil seeds a fresh PCG
	Logger *slog.Logger
}

// Painter is one painter peer bound to one connection.
type Painter struct {
	cfg   Config
	conn  transport.Conn
	buf   Buffer
	state State
	rng   *rand.Rand
	log   *slog.Logger
}

// New creates a painter on conn. Call Run to start it.
func New(conn transport.Conn, cfg Config) *Painter {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Painter{
		cfg:  cfg,
		conn: conn,
		rng:  rng,
		log:  logger.With("component", "painter", "name", cfg.Name),
	}
}

func (p *Painter) State() State { return p.state }

// Buffer exposes the painter's buffer. Only safe while Run is not running.
func (p *Painter) Buffer() *Buffer { return &p.buf }

// Run drives the painter until ctx is cancelled or the connection fails.
// Message handling and mutation share one loop, so the buffer is never read
// and written at the same time.
func (p *Painter) Run(ctx context.Context) error {
	events := make(chan transport.Event, 8)
	done := make(chan struct{})
	defer close(done)
	go transport.ReadLoop(p.conn, events, done)

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if ev.Err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("painter read: %w", ev.Err)
			}
			if err := p.HandleMessage(ev.Msg); err != nil {
				return err
			}

		case <-ticker.C:
			p.Tick()

		case <-ctx.Done():
			p.conn.Close()
			return ctx.Err()
		}
	}
}

// Tick applies one mutation. It does nothing until the buffer is sized.
func (p *Painter) Tick() {
	if off, ok := p.buf.Mutate(p.rng); ok {
		p.log.Debug("mutated pixel", "offset", off)
	}
}

// HandleMessage processes one inbound message. Malformed or unknown input is
// logged and dropped; only a failed reply is returned, since that means the
// connection is gone.
func (p *Painter) HandleMessage(msg protocol.Message) error {
	if msg.Kind != protocol.KindText {
		p.log.Debug("ignoring binary message", "bytes", len(msg.Payload))
		return nil
	}

	ctl, err := protocol.DecodeControl(msg.Payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnrecognizedMessage) {
			p.log.Debug("ignoring control message", "err", err)
		} else {
			p.log.Warn("bad control message", "err", err)
		}
		return nil
	}

	switch m := ctl.(type) {
	case protocol.WhoAreYou:
		if !m.Query() {
			return nil
		}
		return p.send(transport.SendControl(p.conn, protocol.WhoAreYou{
			Role: protocol.RolePainter,
			Name: p.cfg.Name,
			URL:  p.cfg.URL,
		}))

	case protocol.Size:
		dims := m.Dimensions()
		p.buf.Reset(dims)
		p.state = Sized
		p.log.Info("buffer sized", "dims", dims)

	case protocol.PullRequest:
		return p.replyPull()

	case protocol.ErrorNotice:
		if m.Final {
			p.log.Error("relay warning, next one disconnects", "error", m.Message, "naughty", m.Naughty)
		} else {
			p.log.Warn("relay warning", "error", m.Message, "naughty", m.Naughty)
		}
	}
	return nil
}

// replyPull sends the buffer as a Single Frame. Before any Size the reply is
// the zero-dimension frame. A non-square buffer cannot be described by a
// Single Frame, so nothing is sent.
func (p *Painter) replyPull() error {
	dims := p.buf.Dimensions()
	if p.state == Uninitialized || dims.Empty() {
		frame, _ := protocol.EncodeSingle(nil, 0)
		return p.send(p.conn.WriteMessage(protocol.BinaryMessage(frame)))
	}
	if !dims.Square() {
		p.log.Warn("pull on non-square buffer, not replying", "dims", dims)
		return nil
	}
	frame, err := protocol.EncodeSingle(p.buf.Pixels(), dims.W)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return p.send(p.conn.WriteMessage(protocol.BinaryMessage(frame)))
}

// send turns ErrNotReady into a warning; other write errors end the loop.
func (p *Painter) send(err error) error {
	if transport.Dropped(err) {
		p.log.Warn("dropping reply", "err", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("painter write: %w", err)
	}
	return nil
}
