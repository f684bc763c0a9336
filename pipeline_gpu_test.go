//go:build !nogpu

package placement

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/go-cmp/cmp"
)

// initDevicePipeline initializes a pipeline on the device, skipping the test
// when no adapter opens.
func initDevicePipeline(t *testing.T) *PlacementPipeline {
	t.Helper()
	p := NewPipeline()
	if err := p.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !p.UsingDevice() {
		p.Close()
		t.Skip("GPU not available")
	}
	t.Cleanup(p.Close)
	return p
}

// TestPipelineInitIdempotent verifies Init and Close round-trip.
func TestPipelineInitIdempotent(t *testing.T) {
	p := NewPipeline()
	if err := p.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := p.Init(); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	p.Close()
	if p.UsingDevice() {
		t.Error("UsingDevice() = true after Close()")
	}
}

// TestDeviceMatchesHost verifies the device pipeline reproduces the host
// path: same per-class counts, same class partitioning, matching positions.
func TestDeviceMatchesHost(t *testing.T) {
	p := initDevicePipeline(t)

	height := make([]float32, 32*32)
	density := make([]float32, 16*16)
	for i := range height {
		height[i] = float32(i%17) / 17
	}
	for i := range density {
		density[i] = float32(i%7) / 7
	}
	p.SetWorldData(WorldData{
		Scale:     mgl32.Vec3{64, 8, 64},
		Heightmap: NewMapTextureFromValues(32, 32, height),
	})
	p.SetLayerData(LayerData{
		Footprint: 1.5,
		Densitymaps: []DensityMap{
			{Texture: NewMapTextureFromValues(16, 16, density), Weight: 0.8},
			{Texture: nil, Weight: 0.5},
		},
	})

	lower, upper := mgl32.Vec2{2, 2}, mgl32.Vec2{40, 40}
	future, err := p.ComputePlacement(lower, upper)
	if err != nil {
		t.Fatalf("ComputePlacement() error = %v", err)
	}
	res, err := future.ReadResult()
	if err != nil {
		t.Fatalf("ReadResult() error = %v", err)
	}

	hostElements, hostCounts := computePlacementHost(p.world, p.layer, p.st, lower, upper)

	gotCounts := make([]uint32, res.NumClasses())
	for k := range gotCounts {
		gotCounts[k] = uint32(res.ClassElementCount(k))
	}
	if diff := cmp.Diff(hostCounts, gotCounts); diff != "" {
		t.Fatalf("per-class counts mismatch (-host +device):\n%s", diff)
	}

	got := res.CopyAllToHost()
	if len(got) != len(hostElements) {
		t.Fatalf("element count = %d, want %d", len(got), len(hostElements))
	}

	// The device compaction draws slots from an atomic cursor, so order
	// inside a class range is not defined. Match each device element to an
	// unused host element of the same class.
	used := make([]bool, len(hostElements))
	for i, e := range got {
		matched := false
		for j, h := range hostElements {
			if used[j] || h.ClassIndex != e.ClassIndex {
				continue
			}
			if near(h.Position, e.Position, 1e-4) {
				used[j] = true
				matched = true
				break
			}
		}
		if !matched {
			t.Fatalf("device element %d (%v, class %d) has no host counterpart", i, e.Position, e.ClassIndex)
		}
	}
}

// TestDeviceRepeatDispatch verifies scratch reuse across dispatches keeps
// results stable.
func TestDeviceRepeatDispatch(t *testing.T) {
	p := initDevicePipeline(t)
	p.SetLayerData(LayerData{Footprint: 1.5, Densitymaps: []DensityMap{{Weight: 1}}})
	p.SetWorldData(WorldData{Scale: mgl32.Vec3{64, 8, 64}})

	lower, upper := mgl32.Vec2{0, 0}, mgl32.Vec2{30, 30}
	var prev []Element
	for round := 0; round < 3; round++ {
		future, err := p.ComputePlacement(lower, upper)
		if err != nil {
			t.Fatalf("round %d: ComputePlacement() error = %v", round, err)
		}
		res, err := future.ReadResult()
		if err != nil {
			t.Fatalf("round %d: ReadResult() error = %v", round, err)
		}
		got := res.CopyAllToHost()
		if round > 0 && len(got) != len(prev) {
			t.Fatalf("round %d: element count %d, want %d", round, len(got), len(prev))
		}
		prev = got
	}
}

func near(a, b mgl32.Vec3, tol float64) bool {
	return math.Abs(float64(a.X()-b.X())) <= tol &&
		math.Abs(float64(a.Y()-b.Y())) <= tol &&
		math.Abs(float64(a.Z()-b.Z())) <= tol
}
