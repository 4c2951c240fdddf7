package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsCloseGrace   = time.Second
)

var upgrader = websocket.Upgrader{
	// Browser canvases are served from anywhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla WebSocket. Text and binary frames map directly onto
// protocol message kinds.
type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex // gorilla allows one concurrent writer
	closed    atomic.Bool
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(protocol.MaxPayloadSize)
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadMessage() (protocol.Message, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		c.closed.Store(true)
		return protocol.Message{}, err
	}
	if mt == websocket.TextMessage {
		return protocol.TextMessage(data), nil
	}
	return protocol.BinaryMessage(data), nil
}

func (c *wsConn) WriteMessage(msg protocol.Message) error {
	if !c.Ready() {
		return ErrNotReady
	}
	mt := websocket.BinaryMessage
	if msg.Kind == protocol.KindText {
		mt = websocket.TextMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.ws.WriteMessage(mt, msg.Payload); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

func (c *wsConn) Ready() bool {
	return !c.closed.Load()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Close sends a close frame (best effort) and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseGrace))
		err = c.ws.Close()
	})
	return err
}

// DialWebSocket connects to a ws:// or wss:// relay URL.
func DialWebSocket(ctx context.Context, rawURL string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}
	return newWSConn(ws), nil
}

// WebSocketListener serves WebSocket upgrades on an HTTP server. Extra
// handlers (metrics, a static canvas page) share the same mux.
type WebSocketListener struct {
	srv       *http.Server
	ln        net.Listener
	connCh    chan Conn
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// ListenWebSocket binds addr and upgrades requests on path. addr may use
// port 0; Addr reports the bound address.
func ListenWebSocket(addr, path string, extra map[string]http.Handler, logger *slog.Logger) (*WebSocketListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen TCP: %w", err)
	}

	l := &WebSocketListener{
		ln:     ln,
		connCh: make(chan Conn, 16),
		done:   make(chan struct{}),
		log:    logger,
	}

	mux := http.NewServeMux()
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}
	mux.HandleFunc(path, l.handleUpgrade)

	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("websocket server stopped", "err", err)
		}
	}()
	return l, nil
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		l.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn := newWSConn(ws)
	select {
	case l.connCh <- conn:
	case <-l.done:
		conn.Close()
	}
}

// Accept returns the next upgraded connection.
func (l *WebSocketListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr returns the bound TCP address.
func (l *WebSocketListener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops the HTTP server. Connections already accepted stay open.
func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}
