package placement

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/go-cmp/cmp"
)

// unitFootprint makes the generation cell exactly one world unit wide, so
// regions with integer extents cover a whole number of candidate cells.
func unitFootprint() float32 { return float32(1 / math.Sqrt2) }

// newHostPipeline builds an uninitialized pipeline that computes on the host
// path, with the given number of untextured classes.
func newHostPipeline(classes int, weight float32) *PlacementPipeline {
	p := NewPipeline()
	dms := make([]DensityMap, classes)
	for i := range dms {
		dms[i] = DensityMap{Weight: weight}
	}
	p.SetWorldData(WorldData{Scale: mgl32.Vec3{1, 1, 1}})
	p.SetLayerData(LayerData{Footprint: unitFootprint(), Densitymaps: dms})
	return p
}

// mustCompute runs a placement and waits for its result.
func mustCompute(t *testing.T, p *PlacementPipeline, lower, upper mgl32.Vec2) *Result {
	t.Helper()
	future, err := p.ComputePlacement(lower, upper)
	if err != nil {
		t.Fatalf("ComputePlacement(%v, %v) error = %v", lower, upper, err)
	}
	res, err := future.ReadResult()
	if err != nil {
		t.Fatalf("ReadResult() error = %v", err)
	}
	return res
}

// TestComputePlacementSingleCell verifies a one-cell region with a fully
// permissive class places exactly one element.
func TestComputePlacementSingleCell(t *testing.T) {
	p := newHostPipeline(1, 1)
	res := mustCompute(t, p, mgl32.Vec2{0, 0}, mgl32.Vec2{1, 1})

	if got := res.ElementArrayLength(); got != 1 {
		t.Fatalf("ElementArrayLength() = %d, want 1", got)
	}
	e := res.CopyAllToHost()[0]
	if e.ClassIndex != 0 {
		t.Errorf("ClassIndex = %d, want 0", e.ClassIndex)
	}
	if e.Position.X() < 0 || e.Position.X() >= 1 || e.Position.Z() < 0 || e.Position.Z() >= 1 {
		t.Errorf("Position = %v, want XZ in [0, 1)", e.Position)
	}
}

// TestComputePlacementCellGrid verifies a 10x10-cell region with a fully
// permissive class places exactly one element per cell.
func TestComputePlacementCellGrid(t *testing.T) {
	p := newHostPipeline(1, 1)
	lower, upper := mgl32.Vec2{0, 0}, mgl32.Vec2{10, 10}
	res := mustCompute(t, p, lower, upper)

	if got := res.ElementArrayLength(); got != 100 {
		t.Fatalf("ElementArrayLength() = %d, want 100", got)
	}
	if got := res.ClassElementCount(0); got != 100 {
		t.Errorf("ClassElementCount(0) = %d, want 100", got)
	}
	for i, e := range res.CopyAllToHost() {
		x, z := e.Position.X(), e.Position.Z()
		if x < lower.X() || x >= upper.X() || z < lower.Y() || z >= upper.Y() {
			t.Fatalf("element %d position %v outside [%v, %v)", i, e.Position, lower, upper)
		}
	}
}

// TestComputePlacementEmptyRegions verifies degenerate regions resolve to an
// immediately empty result.
func TestComputePlacementEmptyRegions(t *testing.T) {
	cases := []struct {
		name         string
		lower, upper mgl32.Vec2
	}{
		{"inverted_x", mgl32.Vec2{5, 0}, mgl32.Vec2{0, 5}},
		{"inverted_y", mgl32.Vec2{0, 5}, mgl32.Vec2{5, 0}},
		{"zero_width", mgl32.Vec2{3, 3}, mgl32.Vec2{3, 8}},
		{"zero_area", mgl32.Vec2{3, 3}, mgl32.Vec2{3, 3}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := newHostPipeline(2, 1)
			res := mustCompute(t, p, c.lower, c.upper)
			if got := res.ElementArrayLength(); got != 0 {
				t.Errorf("ElementArrayLength() = %d, want 0", got)
			}
			if got := res.NumClasses(); got != 2 {
				t.Errorf("NumClasses() = %d, want 2", got)
			}
		})
	}
}

// TestComputePlacementValidation verifies configuration errors.
func TestComputePlacementValidation(t *testing.T) {
	t.Run("no_layer", func(t *testing.T) {
		p := NewPipeline()
		if _, err := p.ComputePlacement(mgl32.Vec2{0, 0}, mgl32.Vec2{1, 1}); !errors.Is(err, ErrNoLayer) {
			t.Errorf("error = %v, want ErrNoLayer", err)
		}
	})
	t.Run("bad_footprint", func(t *testing.T) {
		p := newHostPipeline(1, 1)
		p.SetLayerData(LayerData{Footprint: 0, Densitymaps: []DensityMap{{Weight: 1}}})
		if _, err := p.ComputePlacement(mgl32.Vec2{0, 0}, mgl32.Vec2{1, 1}); !errors.Is(err, ErrBadFootprint) {
			t.Errorf("error = %v, want ErrBadFootprint", err)
		}
	})
	t.Run("bad_world_scale", func(t *testing.T) {
		p := newHostPipeline(1, 1)
		p.SetWorldScale(mgl32.Vec3{0, 1, 1})
		if _, err := p.ComputePlacement(mgl32.Vec2{0, 0}, mgl32.Vec2{1, 1}); !errors.Is(err, ErrBadWorldScale) {
			t.Errorf("error = %v, want ErrBadWorldScale", err)
		}
	})
}

// TestComputePlacementDeterministic verifies identical configuration yields
// identical placements across pipeline instances.
func TestComputePlacementDeterministic(t *testing.T) {
	lower, upper := mgl32.Vec2{0, 0}, mgl32.Vec2{10, 10}
	a := mustCompute(t, newHostPipeline(2, 0.6), lower, upper)
	b := mustCompute(t, newHostPipeline(2, 0.6), lower, upper)
	if diff := cmp.Diff(a.CopyAllToHost(), b.CopyAllToHost()); diff != "" {
		t.Errorf("placements differ across runs (-a +b):\n%s", diff)
	}
}

// TestComputePlacementSeedChangesLayout verifies reseeding rebuilds the
// stencil and moves the placements.
func TestComputePlacementSeedChangesLayout(t *testing.T) {
	p := newHostPipeline(1, 1)
	lower, upper := mgl32.Vec2{0, 0}, mgl32.Vec2{10, 10}
	a := mustCompute(t, p, lower, upper)
	p.SetSeed(7)
	b := mustCompute(t, p, lower, upper)

	if a.ElementArrayLength() != b.ElementArrayLength() {
		t.Fatalf("counts changed with seed: %d vs %d", a.ElementArrayLength(), b.ElementArrayLength())
	}
	if cmp.Diff(a.CopyAllToHost(), b.CopyAllToHost()) == "" {
		t.Error("reseeding left placements unchanged")
	}
}

// TestComputePlacementClassPartition verifies elements come back partitioned
// by class in index order, with classes contending in index order.
func TestComputePlacementClassPartition(t *testing.T) {
	p := newHostPipeline(3, 0.4)
	res := mustCompute(t, p, mgl32.Vec2{0, 0}, mgl32.Vec2{10, 10})

	var sum int
	for k := 0; k < res.NumClasses(); k++ {
		sum += res.ClassElementCount(k)
	}
	// Three passes at weight 0.4 accumulate past any threshold, so every
	// candidate is claimed by some class.
	if sum != 100 || res.ElementArrayLength() != 100 {
		t.Fatalf("class counts sum to %d over %d elements, want 100 over 100", sum, res.ElementArrayLength())
	}
	if res.ClassElementCount(0) == 0 {
		t.Error("first class claimed nothing, want the earliest pass to win some candidates")
	}

	all := res.CopyAllToHost()
	prev := uint32(0)
	for i, e := range all {
		if e.ClassIndex < prev {
			t.Fatalf("element %d has class %d after class %d, want classes in index order", i, e.ClassIndex, prev)
		}
		prev = e.ClassIndex
	}

	offset := 0
	for k := 0; k < res.NumClasses(); k++ {
		want := all[offset : offset+res.ClassElementCount(k)]
		if diff := cmp.Diff(want, res.CopyClassToHost(k)); diff != "" {
			t.Errorf("CopyClassToHost(%d) mismatch (-all +class):\n%s", k, diff)
		}
		offset += res.ClassElementCount(k)
	}
}

// TestComputePlacementPartialWeight verifies a sub-unit weight claims only
// part of the candidates.
func TestComputePlacementPartialWeight(t *testing.T) {
	p := newHostPipeline(1, 0.5)
	res := mustCompute(t, p, mgl32.Vec2{0, 0}, mgl32.Vec2{10, 10})
	n := res.ElementArrayLength()
	if n <= 0 || n >= 100 {
		t.Errorf("ElementArrayLength() = %d, want a strict subset of the 100 candidates", n)
	}
}

// TestComputePlacementSeparation verifies placed elements keep the footprint
// separation across the whole region, including tile boundaries.
func TestComputePlacementSeparation(t *testing.T) {
	const footprint = 1.5
	p := NewPipeline()
	p.SetWorldData(WorldData{Scale: mgl32.Vec3{1, 1, 1}})
	p.SetLayerData(LayerData{Footprint: footprint, Densitymaps: []DensityMap{{Weight: 1}}})
	res := mustCompute(t, p, mgl32.Vec2{0, 0}, mgl32.Vec2{24, 24})

	all := res.CopyAllToHost()
	if len(all) == 0 {
		t.Fatal("no elements placed")
	}
	minAllowed := footprint * (1 - 1e-3)
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			dx := float64(all[i].Position.X() - all[j].Position.X())
			dz := float64(all[i].Position.Z() - all[j].Position.Z())
			if dist := math.Sqrt(dx*dx + dz*dz); dist < minAllowed {
				t.Fatalf("elements %d and %d are %.4f apart, want >= %v", i, j, dist, footprint)
			}
		}
	}
}

// TestComputePlacementHeightmap verifies element heights come from the
// heightmap scaled by the world Y extent.
func TestComputePlacementHeightmap(t *testing.T) {
	p := NewPipeline()
	p.SetWorldData(WorldData{
		Scale:     mgl32.Vec3{32, 10, 32},
		Heightmap: NewUniformMapTexture(0.5),
	})
	p.SetLayerData(LayerData{Footprint: unitFootprint(), Densitymaps: []DensityMap{{Weight: 1}}})
	res := mustCompute(t, p, mgl32.Vec2{0, 0}, mgl32.Vec2{8, 8})

	if got := res.ElementArrayLength(); got != 64 {
		t.Fatalf("ElementArrayLength() = %d, want 64", got)
	}
	for i, e := range res.CopyAllToHost() {
		if e.Position.Y() != 5 {
			t.Fatalf("element %d height = %v, want 5", i, e.Position.Y())
		}
	}
}

// TestComputePlacementDensityMask verifies a density map gates where a class
// may place. The left half of the map is zero, the right half one.
func TestComputePlacementDensityMask(t *testing.T) {
	mask := NewMapTextureFromValues(2, 1, []float32{0, 1})
	p := NewPipeline()
	p.SetWorldData(WorldData{Scale: mgl32.Vec3{8, 1, 8}})
	p.SetLayerData(LayerData{
		Footprint:   unitFootprint(),
		Densitymaps: []DensityMap{{Texture: mask, Weight: 1}},
	})
	res := mustCompute(t, p, mgl32.Vec2{0, 0}, mgl32.Vec2{8, 8})

	var left, right int
	for _, e := range res.CopyAllToHost() {
		switch {
		case e.Position.X() < 2:
			left++
		case e.Position.X() >= 6:
			right++
		}
	}
	// x < 2 samples exactly zero density; only the one candidate whose
	// hashed threshold is zero can land there.
	if left > 1 {
		t.Errorf("%d elements in the zero-density strip, want at most 1", left)
	}
	// x >= 6 samples exactly one, so all 16 cells there place.
	if right != 16 {
		t.Errorf("%d elements in the full-density strip, want 16", right)
	}
}

// TestPipelineSetters verifies the incremental configuration setters.
func TestPipelineSetters(t *testing.T) {
	p := NewPipeline()
	p.SetWorldScale(mgl32.Vec3{16, 2, 16})
	p.SetHeightTexture(NewUniformMapTexture(1))
	p.SetDensityTexture(1, nil, 0.5)
	p.SetLayerData(LayerData{Footprint: unitFootprint(), Densitymaps: p.layer.Densitymaps})

	if got := len(p.layer.Densitymaps); got != 2 {
		t.Fatalf("density map count = %d, want 2 after setting class 1", got)
	}
	if p.layer.Densitymaps[0].Weight != 1 {
		t.Errorf("padded class weight = %v, want 1", p.layer.Densitymaps[0].Weight)
	}

	res := mustCompute(t, p, mgl32.Vec2{0, 0}, mgl32.Vec2{4, 4})
	for i, e := range res.CopyAllToHost() {
		if e.Position.Y() != 2 {
			t.Fatalf("element %d height = %v, want 2", i, e.Position.Y())
		}
	}
}
