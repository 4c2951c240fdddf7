package transport

import (
	"context"
	"io"
	"sync"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

const pipeBuffer = 64

// pipeShared is the state both ends of a Pipe close together.
type pipeShared struct {
	done      chan struct{}
	closeOnce sync.Once
}

func (s *pipeShared) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

type pipeConn struct {
	in     <-chan protocol.Message
	out    chan<- protocol.Message
	shared *pipeShared
	name   string
}

// Pipe returns two connected in-memory Conns. Messages written to one are
// read from the other in order. Writes never wait: once pipeBuffer messages
// are unread, WriteMessage fails with ErrBackpressure. Closing either end
// closes both; reads then return io.EOF once drained and writes ErrNotReady.
func Pipe() (Conn, Conn) {
	ab := make(chan protocol.Message, pipeBuffer)
	ba := make(chan protocol.Message, pipeBuffer)
	shared := &pipeShared{done: make(chan struct{})}
	return &pipeConn{in: ba, out: ab, shared: shared, name: "pipe:a"},
		&pipeConn{in: ab, out: ba, shared: shared, name: "pipe:b"}
}

// ReadMessage drains messages written before Close ahead of reporting EOF.
func (c *pipeConn) ReadMessage() (protocol.Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.shared.done:
		select {
		case msg := <-c.in:
			return msg, nil
		default:
			return protocol.Message{}, io.EOF
		}
	}
}

func (c *pipeConn) WriteMessage(msg protocol.Message) error {
	if !c.Ready() {
		return ErrNotReady
	}
	// Copy so the writer may reuse its buffer, as it could with a socket.
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)
	select {
	case c.out <- protocol.Message{Kind: msg.Kind, Payload: payload}:
		return nil
	case <-c.shared.done:
		return ErrNotReady
	default:
		return ErrBackpressure
	}
}

func (c *pipeConn) Ready() bool {
	select {
	case <-c.shared.done:
		return false
	default:
		return true
	}
}

func (c *pipeConn) RemoteAddr() string {
	return c.name
}

func (c *pipeConn) Close() error {
	c.shared.close()
	return nil
}

// PipeListener hands out the server ends of pipes created by Dial. It lets
// tests and single-process setups run a relay without sockets.
type PipeListener struct {
	connCh    chan Conn
	done      chan struct{}
	closeOnce sync.Once
}

// NewPipeListener returns an empty in-memory listener.
func NewPipeListener() *PipeListener {
	return &PipeListener{connCh: make(chan Conn), done: make(chan struct{})}
}

// Dial creates a pipe, queues the server end for Accept and returns the
// client end. It blocks until the listener accepts or is closed.
func (l *PipeListener) Dial() (Conn, error) {
	client, server := Pipe()
	select {
	case l.connCh <- server:
		return client, nil
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

// Accept returns the server end of the next Dial.
func (l *PipeListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *PipeListener) Addr() string {
	return "pipe"
}

func (l *PipeListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}
