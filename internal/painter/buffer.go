package painter

import (
	"math/rand/v2"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

// Buffer is a painter's RGBA raster: W*H*4 bytes, row-major, top-left origin.
// It belongs to exactly one Painter and is only touched from its loop.
type Buffer struct {
	dims protocol.Dimensions
	pix  []byte
}

// Reset reallocates the buffer to dims, zero-filled. Prior contents are gone.
func (b *Buffer) Reset(dims protocol.Dimensions) {
	b.dims = dims
	b.pix = make([]byte, dims.PayloadSize())
}

func (b *Buffer) Dimensions() protocol.Dimensions { return b.dims }

// Pixels returns the live buffer, not a copy.
func (b *Buffer) Pixels() []byte { return b.pix }

// Mutate overwrites the R, G and B channels of one uniformly chosen pixel
// with random bytes, leaving alpha alone. It returns the pixel's byte offset,
// or -1 and false while the buffer is empty.
func (b *Buffer) Mutate(rng *rand.Rand) (int, bool) {
	n := int(b.dims.W) * int(b.dims.H)
	if n == 0 {
		return -1, false
	}
	off := rng.IntN(n) * protocol.PixelSize
	rgb := rng.Uint32()
	b.pix[off] = byte(rgb >> 24)
	b.pix[off+1] = byte(rgb >> 16)
	b.pix[off+2] = byte(rgb >> 8)
	return off, true
}
