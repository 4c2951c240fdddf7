package transport

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

// streamConn carries framed messages over a single reliable byte stream
// (a QUIC stream or a TLS connection). Frames use protocol.WriteMessage /
// protocol.ReadMessage, so the kind byte stands in for WebSocket opcodes.
type streamConn struct {
	r         io.Reader
	w         io.Writer
	closeFn   func() error
	remote    string
	writeMu   sync.Mutex // one writer at a time; frames must not interleave
	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *streamConn) ReadMessage() (protocol.Message, error) {
	msg, err := protocol.ReadMessage(c.r)
	if err != nil {
		c.closed.Store(true)
		return protocol.Message{}, err
	}
	return msg, nil
}

func (c *streamConn) WriteMessage(msg protocol.Message) error {
	if !c.Ready() {
		return ErrNotReady
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteMessage(c.w, msg); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

func (c *streamConn) Ready() bool {
	return !c.closed.Load()
}

func (c *streamConn) RemoteAddr() string {
	return c.remote
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.closeFn()
	})
	return err
}
