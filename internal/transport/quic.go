package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

const handshakeTimeout = 5 * time.Second

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:    30 * time.Second,
		KeepAlivePeriod:   10 * time.Second,
		InitialPacketSize: 1200, // Tailscale MTU is 1280; default 1350 gets dropped
	}
}

// newQUICConn wraps the single bidirectional stream a peer uses. tr is only
// set on the dialing side, which owns its UDP socket.
func newQUICConn(qconn *quic.Conn, stream *quic.Stream, tr *quic.Transport) *streamConn {
	return &streamConn{
		r:      stream,
		w:      stream,
		remote: qconn.RemoteAddr().String(),
		closeFn: func() error {
			stream.CancelRead(0)
			stream.Close()
			qconn.CloseWithError(0, "closed")
			if tr != nil {
				return tr.Close()
			}
			return nil
		},
	}
}

// QUICListener accepts peers over QUIC, one stream per peer.
type QUICListener struct {
	tr *quic.Transport
	ln *quic.Listener
}

// ListenQUIC binds a UDP socket on addr (port 0 for random) with an
// ephemeral certificate.
func ListenQUIC(addr string) (*QUICListener, error) {
	cert, err := NewRelayCert(addr)
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}
	return ListenQUICWithCert(addr, cert)
}

// ListenQUICWithCert binds a QUIC listener using the provided certificate.
func ListenQUICWithCert(addr string, cert tls.Certificate) (*QUICListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(tlsConfig(&cert), quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen: %w", err)
	}
	return &QUICListener{tr: tr, ln: ln}, nil
}

// Accept waits for a peer to open its stream and send the hello preamble.
func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) || errors.Is(err, quic.ErrTransportClosed) {
			return nil, fmt.Errorf("%w: %v", ErrListenerClosed, err)
		}
		return nil, fmt.Errorf("accept QUIC connection: %w", err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	stream, err := qconn.AcceptStream(hsCtx)
	if err != nil {
		qconn.CloseWithError(1, "no stream")
		return nil, fmt.Errorf("accept stream: %w", err)
	}

	// Deadline prevents a silent peer from blocking the accept path.
	stream.SetReadDeadline(time.Now().Add(handshakeTimeout))
	err = protocol.ReadHello(stream)
	stream.SetReadDeadline(time.Time{})
	if err != nil {
		qconn.CloseWithError(1, "bad hello")
		return nil, fmt.Errorf("read hello: %w", err)
	}

	return newQUICConn(qconn, stream, nil), nil
}

// Addr returns the bound UDP address.
func (l *QUICListener) Addr() string {
	return l.tr.Conn.LocalAddr().String()
}

// Close shuts down the listener and underlying transport.
func (l *QUICListener) Close() error {
	l.ln.Close()
	return l.tr.Close()
}

// DialQUIC connects to a relay's QUIC listener at host:port, opens the peer
// stream and announces it with the hello preamble.
func DialQUIC(ctx context.Context, addr string) (Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	// Use a fresh UDP socket for each peer connection
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("listen UDP: %w", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	qconn, err := tr.Dial(ctx, udpAddr, tlsConfig(nil), quicConfig())
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("QUIC dial: %w", err)
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(1, "open stream failed")
		tr.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := protocol.WriteHello(stream); err != nil {
		qconn.CloseWithError(1, "hello failed")
		tr.Close()
		return nil, fmt.Errorf("write hello: %w", err)
	}

	return newQUICConn(qconn, stream, tr), nil
}
