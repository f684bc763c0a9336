package placement

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/placement/internal/gpu"
)

// PlacementPipeline computes procedural object placements for rectangular
// world regions. It prefers the compute device and falls back to a host
// implementation with identical results when no adapter opens.
//
// A pipeline is safe for concurrent use. Configuration setters apply to
// subsequent ComputePlacement calls only.
type PlacementPipeline struct {
	mu sync.Mutex

	dispatcher *gpu.Dispatcher

	world WorldData
	layer LayerData
	seed  uint32

	st             *stencil
	stencilVersion uint64
}

// NewPipeline returns a pipeline in host mode with a unit world scale and no
// layer. Call Init to attach the compute device.
func NewPipeline() *PlacementPipeline {
	return &PlacementPipeline{
		world: WorldData{Scale: mgl32.Vec3{1, 1, 1}},
	}
}

// Init opens the compute device and builds the kernel pipelines. When no
// adapter opens the pipeline stays on the host path; that is not an error.
// Init is idempotent.
func (p *PlacementPipeline) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dispatcher != nil && p.dispatcher.Ready() {
		return nil
	}
	d := gpu.NewDispatcher()
	if err := d.Init(); err != nil {
		slogger().Warn("compute device unavailable, using host path", "error", err)
		return nil
	}
	p.dispatcher = d
	return nil
}

// Close releases the device resources. The pipeline reverts to the host path
// and may be re-initialized.
func (p *PlacementPipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dispatcher != nil {
		p.dispatcher.Close()
		p.dispatcher = nil
	}
}

// UsingDevice reports whether placements are computed on the device.
func (p *PlacementPipeline) UsingDevice() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatcher != nil && p.dispatcher.Ready()
}

// SetWorldData replaces the world configuration.
func (p *PlacementPipeline) SetWorldData(world WorldData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.world = world
}

// SetWorldScale sets the world extents. X and Z span the placeable area,
// Y scales the heightmap samples.
func (p *PlacementPipeline) SetWorldScale(scale mgl32.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.world.Scale = scale
}

// SetHeightTexture sets the heightmap. A nil texture means flat terrain.
func (p *PlacementPipeline) SetHeightTexture(t *MapTexture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.world.Heightmap = t
}

// SetLayerData replaces the layer configuration. Changing the footprint
// invalidates the cached stencil.
func (p *PlacementPipeline) SetLayerData(layer LayerData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.st != nil && layer.Footprint != p.layer.Footprint {
		p.st = nil
	}
	p.layer = layer
}

// SetDensityTexture sets class k's density map, growing the class list as
// needed. A nil texture is sampled as uniform one, so the weight alone
// drives the class.
func (p *PlacementPipeline) SetDensityTexture(k int, t *MapTexture, weight float32) {
	if k < 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.layer.Densitymaps) <= k {
		p.layer.Densitymaps = append(p.layer.Densitymaps, DensityMap{Weight: 1})
	}
	p.layer.Densitymaps[k] = DensityMap{Texture: t, Weight: weight}
}

// SetSeed sets the stencil seed and invalidates the cached stencil.
func (p *PlacementPipeline) SetSeed(seed uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seed != p.seed {
		p.seed = seed
		p.st = nil
	}
}

// ensureStencilLocked builds the stencil for the current footprint and seed
// if the cached one is stale.
func (p *PlacementPipeline) ensureStencilLocked() error {
	if p.st != nil {
		return nil
	}
	st, err := buildStencil(p.layer.Footprint, p.seed)
	if err != nil {
		return err
	}
	p.st = st
	p.stencilVersion++
	return nil
}

// ComputePlacement places the configured layer's classes over the region
// [lower, upper) and returns a future for the result. An empty or inverted
// region yields an immediately-ready empty result.
//
// Identical configuration and region always produce the same elements per
// class, on either compute path. On the device path the order of elements
// inside a class range is not defined.
func (p *PlacementPipeline) ComputePlacement(lower, upper mgl32.Vec2) (*FutureResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.layer.Densitymaps) == 0 {
		return nil, ErrNoLayer
	}
	sx, sz := p.world.Scale.X(), p.world.Scale.Z()
	if !(sx > 0) || !(sz > 0) || math.IsInf(float64(sx), 1) || math.IsInf(float64(sz), 1) {
		return nil, fmt.Errorf("world scale (%g, %g): %w", sx, sz, ErrBadWorldScale)
	}
	if upper.X() <= lower.X() || upper.Y() <= lower.Y() {
		return newReadyFuture(nil, make([]uint32, len(p.layer.Densitymaps))), nil
	}
	if err := p.ensureStencilLocked(); err != nil {
		return nil, err
	}

	if p.dispatcher != nil && p.dispatcher.Ready() {
		pending, err := p.dispatcher.Dispatch(p.deviceInputLocked(lower, upper))
		if err != nil {
			return nil, fmt.Errorf("dispatch placement: %w", err)
		}
		return newPendingFuture(pending), nil
	}

	elements, counts := computePlacementHost(p.world, p.layer, p.st, lower, upper)
	return newReadyFuture(elements, counts), nil
}

// deviceInputLocked assembles the dispatch input from the current
// configuration.
func (p *PlacementPipeline) deviceInputLocked(lower, upper mgl32.Vec2) *gpu.Input {
	geom := computeDispatchGeometry(p.st, lower, upper)
	fields := make([]gpu.DensityField, len(p.layer.Densitymaps))
	for k, dm := range p.layer.Densitymaps {
		fields[k] = gpu.DensityField{
			FieldData: fieldData(dm.Texture, 1),
			Weight:    dm.Weight,
		}
	}
	return &gpu.Input{
		Stencil:        p.st.flatSlots(),
		StencilVersion: p.stencilVersion,
		CellSize:       geom.cellSize,
		Lower:          [2]float32{lower.X(), lower.Y()},
		Upper:          [2]float32{upper.X(), upper.Y()},
		WorkgroupsX:    uint32(geom.workgroupsX),
		WorkgroupsY:    uint32(geom.workgroupsY),
		WorldScale:     [3]float32{p.world.Scale.X(), p.world.Scale.Y(), p.world.Scale.Z()},
		Heightmap:      fieldData(p.world.Heightmap, 0),
		Densitymaps:    fields,
	}
}

// fieldData converts a map texture to its device form. A nil texture becomes
// a 1x1 field holding the missing value, which bilinear sampling returns
// everywhere, matching the host path's nil handling.
func fieldData(t *MapTexture, missing float32) gpu.FieldData {
	if t == nil {
		return gpu.FieldData{Width: 1, Height: 1, Values: []float32{missing}}
	}
	return gpu.FieldData{
		Width:  uint32(t.Width()),
		Height: uint32(t.Height()),
		Values: t.Values(),
	}
}
