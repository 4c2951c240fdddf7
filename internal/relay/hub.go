// Package relay implements the hub that painters and canvases connect to.
// It assigns painter identities, negotiates buffer sizes, polls painters for
// pixels and serves the collected canvas to viewers.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronologos/pixelrelay/internal/logging"
	"github.com/chronologos/pixelrelay/internal/protocol"
	"github.com/chronologos/pixelrelay/internal/transport"
)

const (
	DefaultPollInterval = time.Second
	DefaultNaughtyLimit = 50

	outboxSize = 32
)

// Config holds relay configuration. Zero fields take the defaults.
type Config struct {
	CellSize     int
	MaxPainters  int
	PollInterval time.Duration
	NaughtyLimit int // warnings before the next offence disconnects
	Topology     protocol.Topology
	Logger       *slog.Logger
	Metrics      *Metrics // nil disables metrics
}

func (c *Config) setDefaults() {
	if c.CellSize <= 0 {
		c.CellSize = DefaultCellSize
	}
	if c.MaxPainters <= 0 || c.MaxPainters > MaxPainters {
		c.MaxPainters = MaxPainters
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NaughtyLimit <= 0 {
		c.NaughtyLimit = DefaultNaughtyLimit
	}
	if c.Topology == "" {
		c.Topology = protocol.TopologySingle
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
}

// client is one connected peer. Only the hub loop touches its fields; the
// writer goroutine only reads outbox.
type client struct {
	id      protocol.PainterID
	conn    transport.Conn
	role    protocol.Role // empty until the peer answers WhoAreYou
	name    string
	url     string
	naughty int
	outbox  chan protocol.Message
	gone    chan struct{} // closed when the hub drops the client
}

func (c *client) roleLabel() string {
	if c.role == "" {
		return "unknown"
	}
	return string(c.role)
}

// clientEvent is a tagged message from a client's reader goroutine. Tagging
// with the client lets the loop discard events from clients it already
// dropped.
type clientEvent struct {
	c   *client
	msg protocol.Message
	err error
}

type acceptResult struct {
	conn transport.Conn
	err  error
}

// Hub is the relay's state machine. All state is owned by the Serve loop.
type Hub struct {
	cfg     Config
	grid    *Grid
	clients map[protocol.PainterID]*client
	nextID  protocol.PainterID
	log     *slog.Logger
}

// New creates a hub. Call Serve to run it.
func New(cfg Config) *Hub {
	cfg.setDefaults()
	return &Hub{
		cfg:     cfg,
		grid:    NewGrid(cfg.CellSize, cfg.MaxPainters),
		clients: make(map[protocol.PainterID]*client),
		log:     cfg.Logger.With("component", "relay"),
	}
}

// Serve accepts peers from ln and runs the hub until ctx is cancelled or ln
// is closed. Every client is disconnected on return.
func (h *Hub) Serve(ctx context.Context, ln transport.Listener) error {
	done := make(chan struct{})
	defer func() {
		for _, c := range h.clients {
			h.drop(c, "shutdown")
		}
		close(done)
	}()

	acceptCh := make(chan acceptResult, 1)
	go acceptLoop(ctx, ln, acceptCh, done)

	events := make(chan clientEvent, 64)
	poll := time.NewTicker(h.cfg.PollInterval)
	defer poll.Stop()

	h.log.Info("relay serving", "addr", ln.Addr(), "topology", h.cfg.Topology,
		"cell", h.cfg.CellSize, "max_painters", h.cfg.MaxPainters)

	for {
		select {
		case res := <-acceptCh:
			if res.err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(res.err, transport.ErrListenerClosed) {
					return fmt.Errorf("relay accept: %w", res.err)
				}
				// Failed handshakes only affect that peer.
				h.log.Warn("accept failed", "err", res.err)
				continue
			}
			h.join(res.conn, events, done)

		case ev := <-events:
			if h.clients[ev.c.id] != ev.c {
				continue // already dropped
			}
			if ev.err != nil {
				h.log.Info("client disconnected", "id", ev.c.id, "role", ev.c.roleLabel(), "err", ev.err)
				h.drop(ev.c, "closed")
				continue
			}
			h.handleMessage(ev.c, ev.msg)

		case <-poll.C:
			h.pollPainters()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Painters reports connected painters; for tests and status logging.
func (h *Hub) Painters() int { return h.grid.Len() }

// --- Goroutines ---

func acceptLoop(ctx context.Context, ln transport.Listener, ch chan<- acceptResult, done <-chan struct{}) {
	for {
		conn, err := ln.Accept(ctx)
		select {
		case ch <- acceptResult{conn: conn, err: err}:
		case <-done:
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil && (ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed)) {
			return
		}
	}
}

func readClient(c *client, ch chan<- clientEvent, done <-chan struct{}) {
	for {
		msg, err := c.conn.ReadMessage()
		select {
		case ch <- clientEvent{c: c, msg: msg, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// writeClient drains c.outbox so a slow peer never stalls the hub loop.
func writeClient(c *client, log *slog.Logger) {
	for {
		select {
		case msg := <-c.outbox:
			err := c.conn.WriteMessage(msg)
			if errors.Is(err, transport.ErrBackpressure) {
				log.Warn("client not draining, dropping message", "id", c.id)
				continue
			}
			if err != nil {
				log.Debug("write failed", "id", c.id, "err", err)
				c.conn.Close() // the reader reports the disconnect
				return
			}
		case <-c.gone:
			return
		}
	}
}

// --- Client lifecycle ---

func (h *Hub) join(conn transport.Conn, events chan<- clientEvent, done <-chan struct{}) {
	h.nextID++
	c := &client{
		id:     h.nextID,
		conn:   conn,
		outbox: make(chan protocol.Message, outboxSize),
		gone:   make(chan struct{}),
	}
	h.clients[c.id] = c
	h.cfg.Metrics.clientJoined(c.roleLabel())
	h.log.Info("client connected", "id", c.id, "remote", conn.RemoteAddr())

	go readClient(c, events, done)
	go writeClient(c, h.log)
	h.sendControl(c, protocol.WhoAreYou{})
}

// drop disconnects c and frees its canvas cell. Remaining painters shift
// into the freed position.
func (h *Hub) drop(c *client, reason string) {
	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)
	close(c.gone)
	c.conn.Close()
	if c.role == protocol.RolePainter {
		h.grid.Remove(c.id)
	}
	h.cfg.Metrics.clientLeft(c.roleLabel())
	h.cfg.Metrics.disconnect(reason)
	h.log.Debug("client dropped", "id", c.id, "reason", reason)
}

func (h *Hub) setRole(c *client, role protocol.Role) {
	if c.role == role {
		return
	}
	if c.role == protocol.RolePainter {
		h.grid.Remove(c.id)
	}
	h.cfg.Metrics.clientLeft(c.roleLabel())
	c.role = role
	h.cfg.Metrics.clientJoined(c.roleLabel())
}

// --- Sending ---

func (h *Hub) send(c *client, msg protocol.Message) {
	select {
	case c.outbox <- msg:
	default:
		h.log.Warn("client too slow, dropping message", "id", c.id, "kind", msg.Kind)
	}
}

func (h *Hub) sendControl(c *client, msg protocol.Control) {
	h.send(c, protocol.TextMessage(protocol.MustEncodeControl(msg)))
}

// warn sends c an ErrorNotice. The NaughtyLimit-th warning is marked final;
// the one after disconnects.
func (h *Hub) warn(c *client, kind, message string) {
	c.naughty++
	h.cfg.Metrics.warning(kind)
	h.log.Debug("client warning", "id", c.id, "kind", kind, "naughty", c.naughty, "error", message)
	switch {
	case c.naughty < h.cfg.NaughtyLimit:
		h.sendControl(c, protocol.ErrorNotice{Message: message, Naughty: c.naughty})
	case c.naughty == h.cfg.NaughtyLimit:
		h.sendControl(c, protocol.ErrorNotice{Message: message, Naughty: c.naughty, Final: true})
	default:
		h.log.Warn("disconnecting misbehaving client", "id", c.id, "naughty", c.naughty)
		h.drop(c, "naughty")
	}
}

func (h *Hub) pollPainters() {
	for _, c := range h.clients {
		if c.role == protocol.RolePainter {
			h.sendControl(c, protocol.PullRequest{})
			h.cfg.Metrics.poll()
		}
	}
}

// --- Message handling ---

func (h *Hub) handleMessage(c *client, msg protocol.Message) {
	if msg.Kind == protocol.KindBinary {
		h.handlePixels(c, msg.Payload)
		return
	}

	ctl, err := protocol.DecodeControl(msg.Payload)
	if err != nil {
		u, _ := ctl.(protocol.Unknown)
		switch {
		case u.Fields != nil && u.Msg != "":
			h.warn(c, "control", "Unknown message: "+u.Msg)
		case u.Fields != nil:
			h.warn(c, "control", "Invalid message")
		default:
			h.warn(c, "control", "(Cannot parse) "+err.Error())
		}
		return
	}

	switch m := ctl.(type) {
	case protocol.WhoAreYou:
		h.handleIdentity(c, m)
	case protocol.PullRequest:
		h.serveCanvas(c)
	default:
		h.warn(c, "control", "Unknown message: "+ctl.Tag())
	}
}

func (h *Hub) handleIdentity(c *client, m protocol.WhoAreYou) {
	size := protocol.Size{W: h.cfg.CellSize, H: h.cfg.CellSize}
	switch m.Role {
	case protocol.RolePainter:
		if c.role != protocol.RolePainter {
			if err := h.grid.Insert(c.id); err != nil {
				h.log.Warn("rejecting painter", "id", c.id, "err", err)
				h.drop(c, "full")
				return
			}
		}
		h.setRole(c, protocol.RolePainter)
		c.name, c.url = m.Name, m.URL
		h.log.Info("painter joined", "id", c.id, "name", c.name, "url", c.url, "painters", h.grid.Len())
		h.sendControl(c, size)

	case protocol.RoleCanvas:
		h.setRole(c, protocol.RoleCanvas)
		h.log.Info("canvas joined", "id", c.id)
		h.sendControl(c, size)

	case "":
		h.warn(c, "role", "Expected field ?")

	default:
		h.warn(c, "role", fmt.Sprintf("%s is not a valid ?. Should be painter or canvas", m.Role))
	}
}

// handlePixels accepts a painter's buffer as a Single Frame of exactly one
// cell or as the raw cell bytes with no header.
func (h *Hub) handlePixels(c *client, payload []byte) {
	if c.role != protocol.RolePainter {
		h.log.Warn("pixels from a client that is not a painter", "id", c.id, "role", c.roleLabel())
		return
	}

	want := h.grid.CellBytes()
	pixels := payload
	if len(payload) == protocol.SingleHeaderSize+want {
		frame, err := protocol.DecodeSingle(payload)
		if err != nil || int(frame.Dim) != h.cfg.CellSize {
			h.warn(c, "frame", fmt.Sprintf("Warning: frame is not %dx%d", h.cfg.CellSize, h.cfg.CellSize))
			return
		}
		pixels = frame.Pixels
	}
	switch {
	case len(pixels) > want:
		h.warn(c, "frame", "Warning: data is larger than expected")
		return
	case len(pixels) < want:
		h.warn(c, "frame", "Warning: data is smaller than expected")
		return
	}

	if err := h.grid.Update(c.id, pixels); err != nil {
		h.log.Error("updating canvas", "id", c.id, "err", err)
		return
	}
	h.cfg.Metrics.painterFrame()
}

// serveCanvas answers a pull with the canvas in the configured topology.
func (h *Hub) serveCanvas(c *client) {
	var (
		frame []byte
		err   error
	)
	switch h.cfg.Topology {
	case protocol.TopologyMultiplex:
		frame, err = protocol.EncodeMultiplex(h.grid.Entries())
	default:
		dim := h.grid.Dim()
		frame, err = protocol.EncodeSingle(h.grid.Composite(), uint16(dim))
	}
	if err != nil {
		h.log.Error("encoding canvas", "err", err)
		return
	}
	h.send(c, protocol.BinaryMessage(frame))
	h.cfg.Metrics.canvasFrame(string(h.cfg.Topology))
}
