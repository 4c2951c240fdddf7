package viewer

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/chronologos/pixelrelay/internal/logging"
	"github.com/chronologos/pixelrelay/internal/protocol"
	"github.com/chronologos/pixelrelay/internal/render"
)

// SingleSurfaceID keys the one surface used by the single-frame topology.
// The relay never hands out identity 0.
const SingleSurfaceID protocol.PainterID = 0

// Session holds what one viewer connection has negotiated. Control handling
// writes it and frame decoding reads it; nothing else does.
type Session struct {
	dims protocol.Dimensions
}

func (s *Session) Dimensions() protocol.Dimensions { return s.dims }

type surfaceEntry struct {
	surface render.Surface
	dims    protocol.Dimensions
	// selfSized surfaces take their size from the frame header, not Size.
	selfSized bool
}

// Reconciler keeps one surface per painter identity in step with the most
// recent decoded frame.
type Reconciler struct {
	renderer render.Renderer
	session  *Session
	surfaces map[protocol.PainterID]*surfaceEntry
	log      *slog.Logger
}

// NewReconciler paints onto renderer using session's dimensions.
func NewReconciler(renderer render.Renderer, session *Session, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{
		renderer: renderer,
		session:  session,
		surfaces: make(map[protocol.PainterID]*surfaceEntry),
		log:      logger,
	}
}

// SetSize records new painter dimensions. Surfaces created under other
// dimensions are destroyed now and recreated by the next frame.
func (r *Reconciler) SetSize(dims protocol.Dimensions) {
	if dims == r.session.dims {
		return
	}
	r.session.dims = dims
	for id, e := range r.surfaces {
		if !e.selfSized && e.dims != dims {
			r.log.Debug("destroying stale surface", "painter", id, "was", e.dims, "now", dims)
			r.destroy(id)
		}
	}
}

// ApplyMultiplex reconciles surfaces against a Multiplexed Frame. A frame
// that fails to decode changes nothing.
func (r *Reconciler) ApplyMultiplex(payload []byte) error {
	dims := r.session.Dimensions()
	frame, err := protocol.DecodeMultiplex(payload, dims)
	if err != nil {
		return err
	}

	for id := range r.surfaces {
		if _, ok := frame[id]; !ok {
			r.destroy(id)
		}
	}
	for id, pixels := range frame {
		e, err := r.ensure(id, dims, false)
		if err != nil {
			r.log.Warn("create surface failed", "painter", id, "err", err)
			continue
		}
		if err := e.surface.Paint(pixels); err != nil {
			r.log.Warn("paint failed", "painter", id, "err", err)
		}
	}
	r.flush()
	return nil
}

// ApplySingle paints a Single Frame onto the fixed surface. The header
// carries the dimension; zero clears the surface.
func (r *Reconciler) ApplySingle(payload []byte) error {
	frame, err := protocol.DecodeSingle(payload)
	if err != nil {
		return err
	}

	if frame.Clear() {
		if e, ok := r.surfaces[SingleSurfaceID]; ok {
			e.surface.Clear()
		}
		r.flush()
		return nil
	}

	dims := protocol.SquareDimensions(frame.Dim)
	if e, ok := r.surfaces[SingleSurfaceID]; ok && e.dims != dims {
		r.destroy(SingleSurfaceID)
	}
	e, err := r.ensure(SingleSurfaceID, dims, true)
	if err != nil {
		return fmt.Errorf("create surface: %w", err)
	}
	if err := e.surface.Paint(frame.Pixels); err != nil {
		return fmt.Errorf("paint: %w", err)
	}
	r.flush()
	return nil
}

// Surfaces lists the identities with a live surface, ascending.
func (r *Reconciler) Surfaces() []protocol.PainterID {
	ids := make([]protocol.PainterID, 0, len(r.surfaces))
	for id := range r.surfaces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close destroys every surface.
func (r *Reconciler) Close() {
	for id := range r.surfaces {
		r.destroy(id)
	}
}

func (r *Reconciler) ensure(id protocol.PainterID, dims protocol.Dimensions, selfSized bool) (*surfaceEntry, error) {
	if e, ok := r.surfaces[id]; ok {
		return e, nil
	}
	s, err := r.renderer.CreateSurface(id, int(dims.W), int(dims.H))
	if err != nil {
		return nil, err
	}
	e := &surfaceEntry{surface: s, dims: dims, selfSized: selfSized}
	r.surfaces[id] = e
	r.log.Debug("created surface", "painter", id, "dims", dims)
	return e, nil
}

func (r *Reconciler) destroy(id protocol.PainterID) {
	if e, ok := r.surfaces[id]; ok {
		e.surface.Destroy()
		delete(r.surfaces, id)
	}
}

// flush presents the frame. A presentation failure does not undo the
// reconciliation, so it is only logged.
func (r *Reconciler) flush() {
	if f, ok := r.renderer.(render.Flusher); ok {
		if err := f.Flush(); err != nil {
			r.log.Warn("flush failed", "err", err)
		}
	}
}
