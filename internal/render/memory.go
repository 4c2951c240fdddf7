package render

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

// Memory keeps surfaces as image.RGBA values. Tests inspect it directly and
// the viewer can dump it to PNG files.
type Memory struct {
	mu        sync.Mutex
	surfaces  map[protocol.PainterID]*MemorySurface
	created   int
	destroyed int
}

// NewMemory returns an empty in-memory renderer.
func NewMemory() *Memory {
	return &Memory{surfaces: make(map[protocol.PainterID]*MemorySurface)}
}

func (m *Memory) CreateSurface(id protocol.PainterID, w, h int) (Surface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.surfaces[id]; ok {
		return nil, fmt.Errorf("%w: painter %d", ErrSurfaceExists, id)
	}
	s := &MemorySurface{id: id, owner: m, img: image.NewRGBA(image.Rect(0, 0, w, h))}
	m.surfaces[id] = s
	m.created++
	return s, nil
}

// Surface returns the live surface for id.
func (m *Memory) Surface(id protocol.PainterID) (*MemorySurface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surfaces[id]
	return s, ok
}

// IDs lists live surfaces in ascending order.
func (m *Memory) IDs() []protocol.PainterID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]protocol.PainterID, 0, len(m.surfaces))
	for id := range m.surfaces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Stats reports how many surfaces have been created and destroyed.
func (m *Memory) Stats() (created, destroyed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, m.destroyed
}

// WritePNGs writes every live surface to dir as painter-<id>.png and removes
// the files of surfaces that no longer exist, so dir mirrors the live set.
func (m *Memory) WritePNGs(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	live := make(map[protocol.PainterID]bool)
	for _, id := range m.IDs() {
		s, ok := m.Surface(id)
		if !ok {
			continue
		}
		live[id] = true
		if err := writePNG(filepath.Join(dir, pngName(id)), s.Snapshot()); err != nil {
			return err
		}
	}

	stale, err := filepath.Glob(filepath.Join(dir, "painter-*.png"))
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, path := range stale {
		id, ok := parsePNGName(filepath.Base(path))
		if !ok || live[id] {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

func pngName(id protocol.PainterID) string {
	return fmt.Sprintf("painter-%d.png", id)
}

// parsePNGName is the inverse of pngName. Files that only resemble it are
// left alone.
func parsePNGName(name string) (protocol.PainterID, bool) {
	digits, ok := strings.CutPrefix(name, "painter-")
	if !ok {
		return 0, false
	}
	digits, ok = strings.CutSuffix(digits, ".png")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || pngName(protocol.PainterID(n)) != name {
		return 0, false
	}
	return protocol.PainterID(n), true
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// MemorySurface is a Surface backed by an image.RGBA.
type MemorySurface struct {
	id        protocol.PainterID
	owner     *Memory
	img       *image.RGBA
	paints    int
	destroyed bool
}

func (s *MemorySurface) Paint(pixels []byte) error {
	b := s.img.Bounds()
	if err := checkPixels(pixels, b.Dx(), b.Dy()); err != nil {
		return err
	}
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	copy(s.img.Pix, pixels)
	s.paints++
	return nil
}

func (s *MemorySurface) Clear() {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	clear(s.img.Pix)
}

func (s *MemorySurface) Destroy() {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.owner.surfaces[s.id] == s {
		delete(s.owner.surfaces, s.id)
	}
	s.owner.destroyed++
}

// Snapshot returns a copy of the surface's current pixels.
func (s *MemorySurface) Snapshot() *image.RGBA {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// Size returns the surface dimensions.
func (s *MemorySurface) Size() (w, h int) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Paints counts successful Paint calls.
func (s *MemorySurface) Paints() int {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	return s.paints
}
