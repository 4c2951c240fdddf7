package relay

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

const (
	DefaultCellSize = 40
	// MaxPainters fills an 8x8 grid of cells.
	MaxPainters = 64
)

var (
	ErrCanvasFull    = errors.New("canvas full")
	ErrAlreadyPlaced = errors.New("painter already on canvas")
	ErrNotPlaced     = errors.New("painter not on canvas")
	ErrCellSize      = errors.New("pixel data does not match cell size")
)

// Position returns the grid cell of the n-th painter (1-based). Painters
// fill growing square shells: shell k first takes column k top to bottom,
// then row k left to right, so the canvas stays square and nobody moves
// while the set only grows.
func Position(n int) (x, y int, ok bool) {
	if n < 1 || n > MaxPainters {
		return 0, 0, false
	}
	k := 0
	for (k+1)*(k+1) < n {
		k++
	}
	j := n - k*k - 1
	if j < k {
		return k, j, true
	}
	return j - k, k, true
}

type cell struct {
	id  protocol.PainterID
	pix []byte
}

// Grid is the composite canvas: one cell per painter in join order, laid
// out by Position. It is owned by the hub loop and not safe for concurrent
// use.
type Grid struct {
	cellSize int
	limit    int
	cells    []*cell
	pixels   []byte
}

// NewGrid returns an empty grid of cellSize x cellSize cells holding at most
// limit painters (capped at MaxPainters).
func NewGrid(cellSize, limit int) *Grid {
	if limit <= 0 || limit > MaxPainters {
		limit = MaxPainters
	}
	return &Grid{cellSize: cellSize, limit: limit}
}

func (g *Grid) CellSize() int { return g.cellSize }
func (g *Grid) Len() int      { return len(g.cells) }

// CellBytes is the size of one painter's buffer.
func (g *Grid) CellBytes() int { return g.cellSize * g.cellSize * protocol.PixelSize }

// Dim is the composite's side in pixels: ceil(sqrt(n)) cells.
func (g *Grid) Dim() int {
	return gridSide(len(g.cells)) * g.cellSize
}

// gridSide is the number of cells along one side of a grid holding n painters.
func gridSide(n int) int {
	side := 0
	for side*side < n {
		side++
	}
	return side
}

// MaxFrameSize is the largest binary payload a relay with these settings
// exchanges: the full canvas in the topology's frame format, or a single
// painter's frame when that is larger.
func MaxFrameSize(cellSize, maxPainters int, topology protocol.Topology) int {
	cellBytes := cellSize * cellSize * protocol.PixelSize
	painter := protocol.SingleHeaderSize + cellBytes
	var canvas int
	switch topology {
	case protocol.TopologyMultiplex:
		canvas = protocol.MultiplexHeaderSize + maxPainters*(protocol.IdentitySize+cellBytes)
	default:
		dim := gridSide(maxPainters) * cellSize
		canvas = protocol.SingleHeaderSize + dim*dim*protocol.PixelSize
	}
	return max(painter, canvas)
}

// Composite returns the rendered canvas, Dim()*Dim()*4 bytes. It aliases the
// grid's storage.
func (g *Grid) Composite() []byte { return g.pixels }

// Insert places id in the next free position.
func (g *Grid) Insert(id protocol.PainterID) error {
	if g.index(id) >= 0 {
		return fmt.Errorf("%w: %d", ErrAlreadyPlaced, id)
	}
	if len(g.cells) >= g.limit {
		return fmt.Errorf("%w: %d painters", ErrCanvasFull, len(g.cells))
	}
	before := g.Dim()
	g.cells = append(g.cells, &cell{id: id, pix: make([]byte, g.CellBytes())})
	if g.Dim() != before {
		g.render()
	}
	return nil
}

// Remove drops id. Later painters shift into the freed position, so the
// whole canvas is re-rendered.
func (g *Grid) Remove(id protocol.PainterID) bool {
	i := g.index(id)
	if i < 0 {
		return false
	}
	g.cells = slices.Delete(g.cells, i, i+1)
	g.render()
	return true
}

// Update stores id's latest buffer and blits it into the composite.
func (g *Grid) Update(id protocol.PainterID, pix []byte) error {
	i := g.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrNotPlaced, id)
	}
	if len(pix) != g.CellBytes() {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrCellSize, len(pix), g.CellBytes())
	}
	copy(g.cells[i].pix, pix)
	g.blit(i)
	return nil
}

// Entries returns every painter's latest buffer in join order.
func (g *Grid) Entries() []protocol.Entry {
	out := make([]protocol.Entry, len(g.cells))
	for i, c := range g.cells {
		out[i] = protocol.Entry{ID: c.id, Pixels: c.pix}
	}
	return out
}

func (g *Grid) index(id protocol.PainterID) int {
	return slices.IndexFunc(g.cells, func(c *cell) bool { return c.id == id })
}

func (g *Grid) render() {
	dim := g.Dim()
	g.pixels = make([]byte, dim*dim*protocol.PixelSize)
	for i := range g.cells {
		g.blit(i)
	}
}

func (g *Grid) blit(i int) {
	x, y, ok := Position(i + 1)
	if !ok {
		return
	}
	rowBytes := g.cellSize * protocol.PixelSize
	stride := g.Dim() * protocol.PixelSize
	start := y*g.cellSize*stride + x*rowBytes
	src := g.cells[i].pix
	for row := range g.cellSize {
		dst := start + row*stride
		copy(g.pixels[dst:dst+rowBytes], src[row*rowBytes:(row+1)*rowBytes])
	}
}
