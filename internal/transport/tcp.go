package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

func newTCPConn(conn *tls.Conn) *streamConn {
	return &streamConn{
		r:       conn,
		w:       conn,
		remote:  conn.RemoteAddr().String(),
		closeFn: conn.Close,
	}
}

// TCPListener accepts peers over TLS-over-TCP, for networks that drop UDP.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds a TLS listener on addr with an ephemeral certificate.
func ListenTCP(addr string) (*TCPListener, error) {
	cert, err := NewRelayCert(addr)
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return ListenTCPWithCert(addr, cert)
}

// ListenTCPWithCert binds a TLS listener using the provided certificate, so
// the relay can share one certificate between QUIC and TCP.
func ListenTCPWithCert(addr string, cert tls.Certificate) (*TCPListener, error) {
	ln, err := tls.Listen("tcp", addr, tlsConfig(&cert))
	if err != nil {
		return nil, fmt.Errorf("TCP+TLS listen: %w", err)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept waits for a peer and reads its hello preamble.
func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	// net.Listener.Accept ignores contexts; race it against ctx.
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, net.ErrClosed) {
				return nil, fmt.Errorf("%w: %v", ErrListenerClosed, res.err)
			}
			return nil, fmt.Errorf("accept TCP connection: %w", res.err)
		}
		tlsConn := res.conn.(*tls.Conn)
		tlsConn.SetReadDeadline(time.Now().Add(handshakeTimeout))
		err := protocol.ReadHello(tlsConn)
		tlsConn.SetReadDeadline(time.Time{})
		if err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("read hello: %w", err)
		}
		return newTCPConn(tlsConn), nil
	case <-ctx.Done():
		// The goroutine may still be blocked in Accept until the listener
		// is closed; close anything it accepts after we gave up.
		go func() {
			res := <-ch
			if res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Addr returns the bound TCP address.
func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

// Close shuts down the TCP listener.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}

// DialTCP connects to a relay's TCP+TLS listener at host:port.
func DialTCP(ctx context.Context, addr string) (Conn, error) {
	dialer := &tls.Dialer{Config: tlsConfig(nil)}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("TCP+TLS dial: %w", err)
	}
	tlsConn := rawConn.(*tls.Conn)
	if err := protocol.WriteHello(tlsConn); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("write hello: %w", err)
	}
	return newTCPConn(tlsConn), nil
}
