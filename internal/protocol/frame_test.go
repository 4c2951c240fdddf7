package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patterned(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestSingleRoundTrip(t *testing.T) {
	for _, dim := range []uint16{0, 1, 2, 4, 40, 320} {
		pixels := patterned(SquareDimensions(dim).PayloadSize(), byte(dim))

		encoded, err := EncodeSingle(pixels, dim)
		require.NoError(t, err)
		require.Len(t, encoded, SingleHeaderSize+len(pixels))

		frame, err := DecodeSingle(encoded)
		require.NoError(t, err)
		assert.Equal(t, dim, frame.Dim)
		assert.Equal(t, dim == 0, frame.Clear())
		assert.True(t, bytes.Equal(pixels, frame.Pixels), "dim %d payload mismatch", dim)
	}
}

func TestSingleClearIgnoresBuffer(t *testing.T) {
	encoded, err := EncodeSingle([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, encoded)

	frame, err := DecodeSingle(encoded)
	require.NoError(t, err)
	assert.True(t, frame.Clear())
	assert.Empty(t, frame.Pixels)
}

func TestSingleHeaderIsBigEndian(t *testing.T) {
	encoded, err := EncodeSingle(make([]byte, 258*258*4), 258)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, encoded[:2])
}

func TestEncodeSingleShortBuffer(t *testing.T) {
	_, err := EncodeSingle(make([]byte, 15), 2)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeSingleOneByte(t *testing.T) {
	_, err := DecodeSingle([]byte{0})
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = DecodeSingle(nil)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeSingleTruncatedPayload(t *testing.T) {
	encoded, err := EncodeSingle(make([]byte, 16), 2)
	require.NoError(t, err)

	_, err = DecodeSingle(encoded[:len(encoded)-1])
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeSingleIsZeroCopy(t *testing.T) {
	encoded, err := EncodeSingle(make([]byte, 4), 1)
	require.NoError(t, err)

	frame, err := DecodeSingle(encoded)
	require.NoError(t, err)
	encoded[2] = 0xAB
	assert.Equal(t, byte(0xAB), frame.Pixels[0])
}

func TestDecodeSingleTrailingBytesIgnored(t *testing.T) {
	encoded, err := EncodeSingle(patterned(4, 1), 1)
	require.NoError(t, err)
	encoded = append(encoded, 9, 9, 9)

	frame, err := DecodeSingle(encoded)
	require.NoError(t, err)
	assert.Len(t, frame.Pixels, 4)
}

func TestMultiplexRoundTripAnyOrder(t *testing.T) {
	dims := Dimensions{W: 3, H: 2}
	size := dims.PayloadSize()
	entries := []Entry{
		{ID: 1, Pixels: patterned(size, 1)},
		{ID: 1 << 40, Pixels: patterned(size, 2)},
		{ID: 7, Pixels: patterned(size, 3)},
	}
	permutations := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}}

	for _, perm := range permutations {
		ordered := make([]Entry, len(perm))
		for i, p := range perm {
			ordered[i] = entries[p]
		}

		encoded, err := EncodeMultiplex(ordered)
		require.NoError(t, err)
		require.Len(t, encoded, MultiplexedLen(len(entries), dims))

		decoded, err := DecodeMultiplex(encoded, dims)
		require.NoError(t, err)
		require.Len(t, decoded, len(entries))
		for _, e := range entries {
			assert.Equal(t, e.Pixels, decoded[e.ID], "painter %d", e.ID)
		}
	}
}

func TestMultiplexWireLayout(t *testing.T) {
	encoded, err := EncodeMultiplex([]Entry{{ID: 0x0102030405060708, Pixels: []byte{9, 9, 9, 9}}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 1, 2, 3, 4, 5, 6, 7, 8, 9, 9, 9, 9}, encoded)
}

func TestMultiplexEmpty(t *testing.T) {
	encoded, err := EncodeMultiplex(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, encoded)

	// An empty frame decodes even before any size is known.
	decoded, err := DecodeMultiplex(encoded, Dimensions{})
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestEncodeMultiplexPayloadMismatch(t *testing.T) {
	_, err := EncodeMultiplex([]Entry{
		{ID: 1, Pixels: make([]byte, 16)},
		{ID: 2, Pixels: make([]byte, 12)},
	})
	require.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestEncodeMultiplexTooMany(t *testing.T) {
	_, err := EncodeMultiplex(make([]Entry, MaxMultiplexEntries+1))
	require.ErrorIs(t, err, ErrTooManyEntries)
}

func TestDecodeMultiplexTruncated(t *testing.T) {
	dims := SquareDimensions(2)
	encoded, err := EncodeMultiplex([]Entry{
		{ID: 1, Pixels: make([]byte, dims.PayloadSize())},
		{ID: 2, Pixels: make([]byte, dims.PayloadSize())},
	})
	require.NoError(t, err)

	_, err = DecodeMultiplex(encoded[:len(encoded)-1], dims)
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = DecodeMultiplex(encoded[:1], dims)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeMultiplexDeclaredCountTooLarge(t *testing.T) {
	dims := SquareDimensions(1)
	frame := make([]byte, MultiplexedLen(1, dims))
	binary.BigEndian.PutUint16(frame[0:2], 5)

	_, err := DecodeMultiplex(frame, dims)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeMultiplexStaleDimensions(t *testing.T) {
	encoded, err := EncodeMultiplex([]Entry{{ID: 1, Pixels: make([]byte, SquareDimensions(4).PayloadSize())}})
	require.NoError(t, err)

	// Smaller dims than the sender used: too many bytes.
	_, err = DecodeMultiplex(encoded, SquareDimensions(2))
	require.ErrorIs(t, err, ErrMalformedFrame)

	// Larger dims: too few bytes.
	_, err = DecodeMultiplex(encoded, SquareDimensions(8))
	require.ErrorIs(t, err, ErrMalformedFrame)

	// Unknown dims.
	_, err = DecodeMultiplex(encoded, Dimensions{})
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeMultiplexDuplicateIdentity(t *testing.T) {
	encoded, err := EncodeMultiplex([]Entry{
		{ID: 3, Pixels: make([]byte, 4)},
		{ID: 3, Pixels: make([]byte, 4)},
	})
	require.NoError(t, err)

	_, err = DecodeMultiplex(encoded, SquareDimensions(1))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDimensions(t *testing.T) {
	d := Dimensions{W: 40, H: 30}
	assert.Equal(t, 40*30*4, d.PayloadSize())
	assert.False(t, d.Square())
	assert.False(t, d.Empty())
	assert.True(t, Dimensions{W: 5}.Empty())
	assert.Equal(t, "40x30", d.String())
}
