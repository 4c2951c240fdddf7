// Package render holds the drawing surfaces a viewer paints decoded pixel
// buffers onto.
package render

import (
	"errors"
	"fmt"

	"github.com/chronologos/pixelrelay/internal/protocol"
)

var (
	ErrShortPixels      = errors.New("pixel payload shorter than surface")
	ErrSurfaceExists    = errors.New("surface already exists")
	ErrSurfaceDestroyed = errors.New("surface destroyed")
)

// Renderer creates surfaces. Implementations must be safe for use from the
// viewer's loop and from their own Flush concurrently.
type Renderer interface {
	CreateSurface(id protocol.PainterID, w, h int) (Surface, error)
}

// Surface is one painter's drawing target. Paint copies the first w*h*4
// bytes of pixels verbatim: no smoothing, no resampling. Scaling for display
// happens at presentation time.
type Surface interface {
	Paint(pixels []byte) error
	Clear()
	Destroy()
}

// Flusher is implemented by renderers that present surfaces in batches.
// The reconciler calls Flush after each frame it applies.
type Flusher interface {
	Flush() error
}

func checkPixels(pixels []byte, w, h int) error {
	if need := w * h * protocol.PixelSize; len(pixels) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortPixels, len(pixels), need)
	}
	return nil
}
