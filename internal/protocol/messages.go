package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrUnknownKind     = errors.New("unknown message kind")
	ErrBadHello        = errors.New("bad hello preamble")
)

// Message is one unit on a peer connection: either a control message (text)
// or a pixel frame (binary). WebSocket carries the kind natively; stream
// transports carry it in the frame header.
type Message struct {
	Kind    Kind
	Payload []byte
}

// TextMessage wraps an encoded control message.
func TextMessage(payload []byte) Message {
	return Message{Kind: KindText, Payload: payload}
}

// BinaryMessage wraps an encoded pixel frame.
func BinaryMessage(payload []byte) Message {
	return Message{Kind: KindBinary, Payload: payload}
}

// --- Stream encoding ---

// WriteMessage writes a framed message (header + payload) to w.
//
// The payload is written separately from the header so a full canvas frame
// is never copied into an intermediate buffer.
func WriteMessage(w io.Writer, msg Message) error {
	switch msg.Kind {
	case KindText, KindBinary:
	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnknownKind, byte(msg.Kind))
	}
	return writeFrame(w, msg.Kind, msg.Payload)
}

// WriteHello writes the preamble a dialer sends first on a new stream. QUIC
// does not announce a stream to the peer until the first write, and the relay
// speaks first in the control handshake, so the dialer needs something to say.
func WriteHello(w io.Writer) error {
	return writeFrame(w, KindHello, []byte{Version})
}

func writeFrame(w io.Writer, kind Kind, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	header[4] = byte(kind)

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// --- Stream decoding ---

// ReadMessage reads a framed text or binary message from r.
func ReadMessage(r io.Reader) (Message, error) {
	kind, payload, err := readFrame(r)
	if err != nil {
		return Message{}, err
	}
	switch kind {
	case KindText, KindBinary:
		return Message{Kind: kind, Payload: payload}, nil
	default:
		return Message{}, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, byte(kind))
	}
}

// ReadHello reads and checks the stream preamble.
func ReadHello(r io.Reader) error {
	kind, payload, err := readFrame(r)
	if err != nil {
		return err
	}
	if kind != KindHello {
		return fmt.Errorf("%w: got %s message", ErrBadHello, kind)
	}
	if len(payload) != 1 || payload[0] != Version {
		return fmt.Errorf("%w: unsupported version %v", ErrBadHello, payload)
	}
	return nil
}

func readFrame(r io.Reader) (Kind, []byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	kind := Kind(header[4])

	if payloadLen > MaxPayloadSize {
		return 0, nil, ErrPayloadTooLarge
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return kind, payload, nil
}
