package placement

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/go-cmp/cmp"
)

// TestBuildStencilSlotRange verifies every slot offset stays inside its
// generation cell.
func TestBuildStencilSlotRange(t *testing.T) {
	s, err := buildStencil(1.5, 0)
	if err != nil {
		t.Fatalf("buildStencil() error = %v", err)
	}
	for i, slot := range s.slots {
		if slot.X() < 0 || slot.X() >= 1 || slot.Y() < 0 || slot.Y() >= 1 {
			t.Errorf("slot %d = %v, want offsets in [0, 1)", i, slot)
		}
	}
}

// TestBuildStencilDeterminism verifies the stencil depends only on footprint
// and seed.
func TestBuildStencilDeterminism(t *testing.T) {
	a, err := buildStencil(1.5, 11)
	if err != nil {
		t.Fatalf("buildStencil() error = %v", err)
	}
	b, err := buildStencil(1.5, 11)
	if err != nil {
		t.Fatalf("buildStencil() error = %v", err)
	}
	if diff := cmp.Diff(a.flatSlots(), b.flatSlots()); diff != "" {
		t.Errorf("same seed produced different stencils (-a +b):\n%s", diff)
	}

	c, err := buildStencil(1.5, 12)
	if err != nil {
		t.Fatalf("buildStencil() error = %v", err)
	}
	if cmp.Diff(a.flatSlots(), c.flatSlots()) == "" {
		t.Error("different seeds produced identical stencils")
	}
}

// TestBuildStencilRejectsBadFootprint verifies footprint validation.
func TestBuildStencilRejectsBadFootprint(t *testing.T) {
	for _, fp := range []float32{0, -1, float32(math.NaN()), float32(math.Inf(1))} {
		if _, err := buildStencil(fp, 0); !errors.Is(err, ErrBadFootprint) {
			t.Errorf("buildStencil(%v) error = %v, want ErrBadFootprint", fp, err)
		}
	}
}

// TestStencilGeometry verifies the derived cell and tile extents.
func TestStencilGeometry(t *testing.T) {
	s, err := buildStencil(2, 0)
	if err != nil {
		t.Fatalf("buildStencil() error = %v", err)
	}
	wantCell := float32(2 * math.Sqrt2)
	if got := s.cellSize(); math.Abs(float64(got-wantCell)) > 1e-6 {
		t.Errorf("cellSize() = %v, want %v", got, wantCell)
	}
	if got, want := s.tileExtent(), s.cellSize()*stencilDim; got != want {
		t.Errorf("tileExtent() = %v, want %v", got, want)
	}

	flat := s.flatSlots()
	if len(flat) != stencilSlots*2 {
		t.Fatalf("flatSlots() len = %d, want %d", len(flat), stencilSlots*2)
	}
	for i, slot := range s.slots {
		if flat[i*2] != slot.X() || flat[i*2+1] != slot.Y() {
			t.Fatalf("flatSlots()[%d] = (%v, %v), want %v", i, flat[i*2], flat[i*2+1], slot)
		}
	}
}

// TestStencilTiledSeparation verifies that reconstructed world positions keep
// the footprint separation, including across tile boundaries.
func TestStencilTiledSeparation(t *testing.T) {
	const footprint = 1.5
	s, err := buildStencil(footprint, 3)
	if err != nil {
		t.Fatalf("buildStencil() error = %v", err)
	}

	cell := s.cellSize()
	tile := s.tileExtent()
	var points []mgl32.Vec2
	for ty := 0; ty < 2; ty++ {
		for tx := 0; tx < 2; tx++ {
			for cy := 0; cy < stencilDim; cy++ {
				for cx := 0; cx < stencilDim; cx++ {
					slot := s.slots[cy*stencilDim+cx]
					points = append(points, mgl32.Vec2{
						float32(tx)*tile + (float32(cx)+slot.X())*cell,
						float32(ty)*tile + (float32(cy)+slot.Y())*cell,
					})
				}
			}
		}
	}

	minAllowed := footprint * (1 - 1e-3)
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			dx := float64(points[i].X() - points[j].X())
			dy := float64(points[i].Y() - points[j].Y())
			if dist := math.Sqrt(dx*dx + dy*dy); dist < minAllowed {
				t.Fatalf("samples %d and %d are %.4f apart, want >= %v", i, j, dist, footprint)
			}
		}
	}
}
