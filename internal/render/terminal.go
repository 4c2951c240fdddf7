package render

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

const (
	upperHalfBlock = "▀"
	defaultColumns = 40
)

// Terminal draws every live surface side by side using half-block
// characters: each cell carries two vertically stacked pixels, the upper one
// as foreground and the lower one as background.
type Terminal struct {
	out      *termenv.Output
	renderer *lipgloss.Renderer
	columns  int
	clear    bool

	mu       sync.Mutex
	surfaces map[protocol.PainterID]*terminalSurface
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithColumns caps the width of each surface in terminal columns. Wider
// surfaces are scaled down nearest-neighbour.
func WithColumns(n int) TerminalOption {
	return func(t *Terminal) {
		if n > 0 {
			t.columns = n
		}
	}
}

// WithClearScreen homes the cursor and clears the screen before each Flush.
func WithClearScreen() TerminalOption {
	return func(t *Terminal) { t.clear = true }
}

// NewTerminal renders to w with a truecolor profile.
func NewTerminal(w io.Writer, opts ...TerminalOption) *Terminal {
	out := termenv.NewOutput(w, termenv.WithProfile(termenv.TrueColor))
	r := lipgloss.NewRenderer(w, termenv.WithProfile(termenv.TrueColor))
	// lipgloss re-detects the profile from w unless told explicitly.
	r.SetColorProfile(termenv.TrueColor)
	t := &Terminal{
		out:      out,
		renderer: r,
		columns:  defaultColumns,
		surfaces: make(map[protocol.PainterID]*terminalSurface),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Terminal) CreateSurface(id protocol.PainterID, w, h int) (Surface, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.surfaces[id]; ok {
		return nil, fmt.Errorf("%w: painter %d", ErrSurfaceExists, id)
	}
	s := &terminalSurface{id: id, owner: t, w: w, h: h, pix: make([]byte, w*h*protocol.PixelSize)}
	t.surfaces[id] = s
	return s, nil
}

// Flush writes one frame containing all live surfaces.
func (t *Terminal) Flush() error {
	t.mu.Lock()
	ids := make([]protocol.PainterID, 0, len(t.surfaces))
	for id := range t.surfaces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	blocks := make([]string, 0, len(ids))
	for _, id := range ids {
		blocks = append(blocks, t.renderSurface(t.surfaces[id]))
	}
	t.mu.Unlock()

	if t.clear {
		t.out.MoveCursor(1, 1)
		t.out.ClearScreen()
	}
	if len(blocks) == 0 {
		_, err := fmt.Fprintln(t.out, t.renderer.NewStyle().Faint(true).Render("(no painters)"))
		return err
	}
	_, err := fmt.Fprintln(t.out, lipgloss.JoinHorizontal(lipgloss.Top, blocks...))
	return err
}

// renderSurface must be called with t.mu held.
func (t *Terminal) renderSurface(s *terminalSurface) string {
	label := t.renderer.NewStyle().Faint(true).Render(fmt.Sprintf("#%d", s.id))
	if s.w == 0 || s.h == 0 {
		return label
	}
	outW, outH := scaledSize(s.w, s.h, t.columns)

	var b strings.Builder
	b.WriteString(label)
	for y := 0; y < outH; y += 2 {
		b.WriteByte('\n')
		for x := range outW {
			sx := x * s.w / outW
			top := s.color(sx, y*s.h/outH)
			style := t.renderer.NewStyle().Foreground(top)
			if y+1 < outH {
				style = style.Background(s.color(sx, (y+1)*s.h/outH))
			}
			b.WriteString(style.Render(upperHalfBlock))
		}
	}
	return t.renderer.NewStyle().PaddingRight(1).Render(b.String())
}

// scaledSize fits w x h into at most cols columns, keeping the aspect ratio.
func scaledSize(w, h, cols int) (int, int) {
	if w <= cols {
		return w, h
	}
	outH := h * cols / w
	if outH < 1 {
		outH = 1
	}
	return cols, outH
}

type terminalSurface struct {
	id        protocol.PainterID
	owner     *Terminal
	w, h      int
	pix       []byte
	destroyed bool
}

// color must be called with owner.mu held.
func (s *terminalSurface) color(x, y int) lipgloss.Color {
	i := (y*s.w + x) * protocol.PixelSize
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", s.pix[i], s.pix[i+1], s.pix[i+2]))
}

func (s *terminalSurface) Paint(pixels []byte) error {
	if err := checkPixels(pixels, s.w, s.h); err != nil {
		return err
	}
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	copy(s.pix, pixels)
	return nil
}

func (s *terminalSurface) Clear() {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	clear(s.pix)
}

func (s *terminalSurface) Destroy() {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	s.destroyed = true
	if s.owner.surfaces[s.id] == s {
		delete(s.owner.surfaces, s.id)
	}
}
