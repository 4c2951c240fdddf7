package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// fanin accepts connections from several listeners (WebSocket, QUIC, TCP).
// Accept returns whichever connection arrives first.
type fanin struct {
	listeners []Listener

	// connCh receives connections from every accept loop.
	connCh chan acceptRes
	// ctx is cancelled by Close and stops all accept loops.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type acceptRes struct {
	conn Conn
	err  error
}

// Fanin merges listeners into one. Closing the result closes all of them.
// Per-connection accept errors (a failed handshake) are reported and the
// listener keeps being polled; a listener that reports ErrListenerClosed is
// dropped.
func Fanin(listeners ...Listener) Listener {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fanin{
		listeners: listeners,
		connCh:    make(chan acceptRes, 4),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, l := range listeners {
		go f.acceptLoop(ctx, l)
	}
	return f
}

func (f *fanin) acceptLoop(ctx context.Context, l Listener) {
	for {
		conn, err := l.Accept(ctx)
		select {
		case f.connCh <- acceptRes{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		}
		if errors.Is(err, ErrListenerClosed) || ctx.Err() != nil {
			return
		}
	}
}

// Accept returns the next connection from any listener.
func (f *fanin) Accept(ctx context.Context) (Conn, error) {
	select {
	case res := <-f.connCh:
		return res.conn, res.err
	case <-f.ctx.Done():
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Addr lists every listener's address.
func (f *fanin) Addr() string {
	addrs := make([]string, len(f.listeners))
	for i, l := range f.listeners {
		addrs[i] = l.Addr()
	}
	return strings.Join(addrs, ",")
}

// Close shuts down every listener, returning the first error.
func (f *fanin) Close() error {
	var first error
	f.closeOnce.Do(func() {
		f.cancel()
		for _, l := range f.listeners {
			if err := l.Close(); err != nil && first == nil {
				first = err
			}
		}
	})
	return first
}
