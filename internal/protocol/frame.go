package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame covers every binary payload that cannot be decoded:
	// truncated headers, short payloads, and multiplexed frames whose length
	// does not match the negotiated dimensions.
	ErrMalformedFrame = errors.New("malformed frame")

	ErrShortBuffer     = errors.New("pixel buffer shorter than frame dimensions")
	ErrPayloadMismatch = errors.New("multiplexed payloads differ in size")
	ErrTooManyEntries  = errors.New("too many multiplexed entries")
)

// PainterID identifies one painter for the lifetime of its connection.
// The relay assigns it; multiplexed frames carry it as the record key.
type PainterID uint64

// Dimensions of a painter's pixel buffer, agreed through a Size message.
type Dimensions struct {
	W uint16
	H uint16
}

// SquareDimensions returns dim x dim.
func SquareDimensions(dim uint16) Dimensions {
	return Dimensions{W: dim, H: dim}
}

// PayloadSize is the number of RGBA bytes in one buffer of these dimensions.
func (d Dimensions) PayloadSize() int {
	return int(d.W) * int(d.H) * PixelSize
}

// Empty reports whether no pixels fit (either side is zero).
func (d Dimensions) Empty() bool {
	return d.W == 0 || d.H == 0
}

// Square reports whether W == H.
func (d Dimensions) Square() bool {
	return d.W == d.H
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.W, d.H)
}

// --- Single frames ---

// SingleFrame is a decoded single-buffer frame. Pixels aliases the input.
type SingleFrame struct {
	Dim    uint16
	Pixels []byte
}

// Clear reports whether the frame is the "clear the display" signal.
func (f SingleFrame) Clear() bool {
	return f.Dim == 0
}

// EncodeSingle writes dim as a big-endian u16 followed by the first
// dim*dim*4 bytes of pixels. A zero dim encodes the 2-byte clear signal and
// ignores pixels entirely.
func EncodeSingle(pixels []byte, dim uint16) ([]byte, error) {
	n := SquareDimensions(dim).PayloadSize()
	if len(pixels) < n {
		return nil, fmt.Errorf("%w: have %d bytes, dim %d needs %d", ErrShortBuffer, len(pixels), dim, n)
	}
	out := make([]byte, SingleHeaderSize+n)
	binary.BigEndian.PutUint16(out[0:2], dim)
	copy(out[SingleHeaderSize:], pixels[:n])
	return out, nil
}

// DecodeSingle parses a single frame. Trailing bytes past the declared
// payload are ignored.
func DecodeSingle(b []byte) (SingleFrame, error) {
	if len(b) < SingleHeaderSize {
		return SingleFrame{}, fmt.Errorf("%w: %d byte header", ErrMalformedFrame, len(b))
	}
	dim := binary.BigEndian.Uint16(b[0:2])
	if dim == 0 {
		return SingleFrame{}, nil
	}
	n := SquareDimensions(dim).PayloadSize()
	if len(b)-SingleHeaderSize < n {
		return SingleFrame{}, fmt.Errorf("%w: dim %d needs %d payload bytes, have %d",
			ErrMalformedFrame, dim, n, len(b)-SingleHeaderSize)
	}
	return SingleFrame{
		Dim:    dim,
		Pixels: b[SingleHeaderSize : SingleHeaderSize+n : SingleHeaderSize+n],
	}, nil
}

// --- Multiplexed frames ---

// Entry is one painter's record in a multiplexed frame.
type Entry struct {
	ID     PainterID
	Pixels []byte
}

// MultiplexedLen is the exact encoded length of count records of dims.
func MultiplexedLen(count int, dims Dimensions) int {
	return MultiplexHeaderSize + count*(IdentitySize+dims.PayloadSize())
}

// EncodeMultiplex packs entries in order behind a u16 count. Payload sizes
// are checked before anything is written: every entry must match the first.
func EncodeMultiplex(entries []Entry) ([]byte, error) {
	if len(entries) > MaxMultiplexEntries {
		return nil, fmt.Errorf("%w: %d", ErrTooManyEntries, len(entries))
	}
	size := 0
	if len(entries) > 0 {
		size = len(entries[0].Pixels)
	}
	for _, e := range entries {
		if len(e.Pixels) != size {
			return nil, fmt.Errorf("%w: painter %d has %d bytes, want %d",
				ErrPayloadMismatch, e.ID, len(e.Pixels), size)
		}
	}

	stride := IdentitySize + size
	out := make([]byte, MultiplexHeaderSize+len(entries)*stride)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(entries)))
	off := MultiplexHeaderSize
	for _, e := range entries {
		binary.BigEndian.PutUint64(out[off:off+IdentitySize], uint64(e.ID))
		copy(out[off+IdentitySize:off+stride], e.Pixels)
		off += stride
	}
	return out, nil
}

// DecodeMultiplex walks count fixed-stride records of 8+w*h*4 bytes.
// The returned views alias b. The frame must be exactly as long as its count
// implies under dims: a mismatch almost always means the sender and receiver
// disagree on dimensions, so it is rejected rather than silently misread.
func DecodeMultiplex(b []byte, dims Dimensions) (map[PainterID][]byte, error) {
	if len(b) < MultiplexHeaderSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrMalformedFrame, len(b))
	}
	count := int(binary.BigEndian.Uint16(b[0:2]))
	if count > 0 && dims.Empty() {
		return nil, fmt.Errorf("%w: %d records but no negotiated size", ErrMalformedFrame, count)
	}
	want := MultiplexedLen(count, dims)
	if len(b) < want {
		return nil, fmt.Errorf("%w: %d records of %s need %d bytes, have %d",
			ErrMalformedFrame, count, dims, want, len(b))
	}
	if len(b) > want {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d records of %s (dimension mismatch?)",
			ErrMalformedFrame, len(b)-want, count, dims)
	}

	size := dims.PayloadSize()
	stride := IdentitySize + size
	out := make(map[PainterID][]byte, count)
	off := MultiplexHeaderSize
	for range count {
		id := PainterID(binary.BigEndian.Uint64(b[off : off+IdentitySize]))
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("%w: painter %d repeated", ErrMalformedFrame, id)
		}
		start := off + IdentitySize
		out[id] = b[start : start+size : start+size]
		off += stride
	}
	return out, nil
}
