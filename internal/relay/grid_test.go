package relay

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

func TestPosition(t *testing.T) {
	want := map[int][2]int{
		1: {0, 0}, 2: {1, 0}, 3: {0, 1}, 4: {1, 1},
		5: {2, 0}, 6: {2, 1}, 7: {0, 2}, 8: {1, 2}, 9: {2, 2},
		10: {3, 0}, 13: {0, 3}, 16: {3, 3},
		41: {6, 4}, 49: {6, 6}, 50: {7, 0}, 57: {0, 7}, 64: {7, 7},
	}
	for n, xy := range want {
		x, y, ok := Position(n)
		require.True(t, ok, "position %d", n)
		assert.Equal(t, xy, [2]int{x, y}, "position %d", n)
	}

	for _, n := range []int{0, -1, 65} {
		_, _, ok := Position(n)
		assert.False(t, ok, "position %d", n)
	}
}

func TestPositionsFillSquares(t *testing.T) {
	seen := map[[2]int]bool{}
	for n := 1; n <= MaxPainters; n++ {
		x, y, ok := Position(n)
		require.True(t, ok)
		require.False(t, seen[[2]int{x, y}], "position %d reused", n)
		seen[[2]int{x, y}] = true

		// The first k*k painters exactly fill a k x k square.
		side := 0
		for side*side < n {
			side++
		}
		assert.Less(t, x, side)
		assert.Less(t, y, side)
	}
}

func TestGridDim(t *testing.T) {
	g := NewGrid(40, 0)
	assert.Equal(t, 0, g.Dim())
	assert.Empty(t, g.Composite())

	for id, want := range []int{40, 80, 80, 80, 120} {
		require.NoError(t, g.Insert(protocol.PainterID(id+1)))
		assert.Equal(t, want, g.Dim(), "%d painters", id+1)
		assert.Len(t, g.Composite(), want*want*4)
	}
}

func TestGridSinglePainter(t *testing.T) {
	g := NewGrid(40, 0)
	require.NoError(t, g.Insert(1))
	require.NoError(t, g.Update(1, bytes.Repeat([]byte{255}, 40*40*4)))
	assert.Equal(t, bytes.Repeat([]byte{255}, 40*40*4), g.Composite())
}

func TestGridFourPainters(t *testing.T) {
	const cell = 40
	g := NewGrid(cell, 0)
	for id := protocol.PainterID(1); id <= 4; id++ {
		require.NoError(t, g.Insert(id))
	}
	for id, v := range map[protocol.PainterID]byte{1: 50, 2: 100, 3: 150, 4: 200} {
		require.NoError(t, g.Update(id, bytes.Repeat([]byte{v}, cell*cell*4)))
	}

	row := cell * 4
	var want []byte
	for range cell {
		want = append(want, bytes.Repeat([]byte{50}, row)...)
		want = append(want, bytes.Repeat([]byte{100}, row)...)
	}
	for range cell {
		want = append(want, bytes.Repeat([]byte{150}, row)...)
		want = append(want, bytes.Repeat([]byte{200}, row)...)
	}
	assert.Equal(t, want, g.Composite())
}

func TestGridRemoveShiftsPainters(t *testing.T) {
	g := NewGrid(2, 0)
	for id := protocol.PainterID(1); id <= 3; id++ {
		require.NoError(t, g.Insert(id))
		require.NoError(t, g.Update(id, bytes.Repeat([]byte{byte(id)}, 16)))
	}
	require.Equal(t, 4, g.Dim())

	assert.True(t, g.Remove(1))
	assert.False(t, g.Remove(1))
	assert.Equal(t, 4, g.Dim())

	// Painter 2 now sits at (0,0) and painter 3 at (1,0); the bottom row is empty.
	comp := g.Composite()
	at := func(x, y int) byte { return comp[(y*4+x)*4] }
	assert.Equal(t, byte(2), at(0, 0))
	assert.Equal(t, byte(2), at(1, 1))
	assert.Equal(t, byte(3), at(2, 0))
	assert.Equal(t, byte(0), at(0, 2))

	assert.True(t, g.Remove(2))
	assert.Equal(t, 2, g.Dim())
	assert.Equal(t, bytes.Repeat([]byte{3}, 16), g.Composite())

	assert.True(t, g.Remove(3))
	assert.Equal(t, 0, g.Dim())
	assert.Empty(t, g.Composite())
}

func TestGridErrors(t *testing.T) {
	g := NewGrid(2, 2)
	require.NoError(t, g.Insert(1))
	assert.ErrorIs(t, g.Insert(1), ErrAlreadyPlaced)
	require.NoError(t, g.Insert(2))
	assert.ErrorIs(t, g.Insert(3), ErrCanvasFull)

	assert.ErrorIs(t, g.Update(9, make([]byte, 16)), ErrNotPlaced)
	assert.ErrorIs(t, g.Update(1, make([]byte, 15)), ErrCellSize)
}

func TestGridEntriesInJoinOrder(t *testing.T) {
	g := NewGrid(1, 0)
	for _, id := range []protocol.PainterID{7, 3, 5} {
		require.NoError(t, g.Insert(id))
	}
	var ids []protocol.PainterID
	for _, e := range g.Entries() {
		ids = append(ids, e.ID)
		assert.Len(t, e.Pixels, 4)
	}
	assert.Equal(t, []protocol.PainterID{7, 3, 5}, ids)
}

func TestMaxFrameSize(t *testing.T) {
	cellBytes := 40 * 40 * protocol.PixelSize

	// 64 painters fill 8x8 cells.
	assert.Equal(t, 2+320*320*protocol.PixelSize, MaxFrameSize(40, 64, protocol.TopologySingle))
	// 5 painters already need a 3x3 composite.
	assert.Equal(t, 2+120*120*protocol.PixelSize, MaxFrameSize(40, 5, protocol.TopologySingle))
	assert.Equal(t, 2+64*(8+cellBytes), MaxFrameSize(40, 64, protocol.TopologyMultiplex))
	// A one-entry multiplexed canvas carries the identity on top of the pixels.
	assert.Equal(t, 2+cellBytes+8, MaxFrameSize(40, 1, protocol.TopologyMultiplex))
	assert.Equal(t, 2+cellBytes, MaxFrameSize(40, 1, protocol.TopologySingle))

	g := NewGrid(40, 9)
	for id := protocol.PainterID(1); id <= 9; id++ {
		require.NoError(t, g.Insert(id))
	}
	frame, err := protocol.EncodeSingle(g.Composite(), uint16(g.Dim()))
	require.NoError(t, err)
	assert.Equal(t, MaxFrameSize(40, 9, protocol.TopologySingle), len(frame))
}
