package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

var (
	// ErrNotReady is returned by WriteMessage when the connection is not
	// open. Periodic senders skip the tick and log instead of queueing.
	ErrNotReady = errors.New("connection not ready")

	// ErrBackpressure is returned by WriteMessage when the peer is not
	// draining and the message would have to wait. The connection stays
	// open; the message is not sent.
	ErrBackpressure = errors.New("peer not draining")

	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("listener closed")
)

// Dropped reports whether a failed write only lost that message: the
// connection was not open or the peer was not draining. Periodic senders
// log and carry on.
func Dropped(err error) bool {
	return errors.Is(err, ErrNotReady) || errors.Is(err, ErrBackpressure)
}

// Conn is one peer's persistent, message-oriented connection to the relay.
// WebSocket, QUIC, TCP+TLS and in-memory pipes all satisfy it.
//
// ReadMessage must be called from a single goroutine. WriteMessage and Close
// are safe for concurrent use.
type Conn interface {
	ReadMessage() (protocol.Message, error)
	WriteMessage(msg protocol.Message) error
	// Ready reports whether the connection is open for writes.
	Ready() bool
	RemoteAddr() string
	Close() error
}

// Listener accepts peer connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// SendControl encodes msg and writes it as a text message.
func SendControl(c Conn, msg protocol.Control) error {
	b, err := protocol.EncodeControl(msg)
	if err != nil {
		return err
	}
	return c.WriteMessage(protocol.TextMessage(b))
}

// Dial connects to the relay at rawURL. The scheme selects the transport:
// ws:// and wss:// for WebSocket, quic:// for QUIC, tls:// for TCP+TLS.
func Dial(ctx context.Context, rawURL string) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return DialWebSocket(ctx, rawURL)
	case "quic":
		return DialQUIC(ctx, u.Host)
	case "tls":
		return DialTCP(ctx, u.Host)
	default:
		return nil, fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
}

// Event is one result from a connection's reader goroutine.
type Event struct {
	Msg protocol.Message
	Err error
}

// ReadLoop reads c until it fails, delivering each message to ch. The final
// event carries the read error. It returns early once done is closed so a
// loop that has stopped listening never leaves it blocked.
func ReadLoop(c Conn, ch chan<- Event, done <-chan struct{}) {
	for {
		msg, err := c.ReadMessage()
		select {
		case ch <- Event{Msg: msg, Err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}
