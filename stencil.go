package placement

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// stencilSlots is the number of entries in a stencil, one per invocation of
// a generation work-group.
const stencilSlots = stencilDim * stencilDim

// stencilRetries bounds how many derived seeds are tried before a footprint
// is declared saturated. Bridson's active-list termination does not
// guarantee that every generation cell receives a point, so a failed seed is
// retried deterministically.
const stencilRetries = 8

// stencil is a periodic pattern of collision-free offsets, tiled across the
// placement region by the generation kernel.
//
// Slot (i, j) holds the offset of its point inside generation cell (i, j),
// in cell units [0, 1). A generation cell is 2x2 background-grid cells of
// the underlying disk distribution, so its world-space side is
// footprint*sqrt(2) and the full tile spans stencilDim of those cells.
// Because the distribution is toroidal with exactly the tile period, any two
// stencil samples respect the footprint separation in world space, including
// across tile boundaries.
type stencil struct {
	footprint float32
	seed      uint32
	slots     [stencilSlots]mgl32.Vec2
}

// cellSize returns the world-space side of one generation cell.
func (s *stencil) cellSize() float32 {
	return float32(float64(s.footprint) * math.Sqrt2)
}

// tileExtent returns the world-space side of one stencil tile, which is also
// the extent covered by a single generation work-group.
func (s *stencil) tileExtent() float32 {
	return s.cellSize() * stencilDim
}

// flatSlots returns the slot offsets as interleaved (x, y) float32 pairs in
// row-major slot order, ready for device upload.
func (s *stencil) flatSlots() []float32 {
	out := make([]float32, 0, stencilSlots*2)
	for _, p := range s.slots {
		out = append(out, p.X(), p.Y())
	}
	return out
}

// buildStencil generates the stencil for a footprint. It drives a toroidal
// disk distribution until every generation cell holds a point, keeping the
// first point that lands in each cell. If the distribution saturates before
// full coverage on every retry seed, the footprint configuration is rejected
// with ErrSaturated.
func buildStencil(footprint float32, seed uint32) (*stencil, error) {
	if !(footprint > 0) || math.IsInf(float64(footprint), 1) {
		return nil, ErrBadFootprint
	}

	for retry := uint32(0); retry < stencilRetries; retry++ {
		s, ok := tryBuildStencil(footprint, seed+retry*0x9e3779b9)
		if ok {
			s.seed = seed
			return s, nil
		}
	}
	return nil, fmt.Errorf("stencil for footprint %g: %w", footprint, ErrSaturated)
}

func tryBuildStencil(footprint float32, seed uint32) (*stencil, bool) {
	dist := NewDiskDistribution(footprint, stencilDim*2, stencilDim*2)
	dist.SetSeed(seed)

	s := &stencil{footprint: footprint}
	bounds := dist.Bounds()
	cell := bounds.X() / stencilDim // generation cell side in domain units

	var filled [stencilSlots]bool
	remaining := stencilSlots
	for remaining > 0 {
		p, err := dist.Generate()
		if err != nil {
			return nil, false
		}
		cx := int(p.X() / cell)
		cy := int(p.Y() / cell)
		if cx >= stencilDim {
			cx = stencilDim - 1
		}
		if cy >= stencilDim {
			cy = stencilDim - 1
		}
		slot := cy*stencilDim + cx
		if filled[slot] {
			continue
		}
		filled[slot] = true
		remaining--
		s.slots[slot] = mgl32.Vec2{
			p.X()/cell - float32(cx),
			p.Y()/cell - float32(cy),
		}
	}
	return s, true
}
