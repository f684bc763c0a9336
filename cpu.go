package placement

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// lowbias32 is the integer hash shared by the host path and the device
// kernels. Both sides must agree bit for bit, since the hash drives the
// per-candidate acceptance threshold.
func lowbias32(v uint32) uint32 {
	v ^= v >> 16
	v *= 0x7feb352d
	v ^= v >> 15
	v *= 0x846ca68b
	v ^= v >> 16
	return v
}

// candidateThreshold maps a candidate's flat invocation id to its acceptance
// threshold. The conversion and divide stay in float32 to match the device
// kernels exactly.
func candidateThreshold(flatID uint32) float32 {
	return float32(lowbias32(flatID)) / 4294967296.0
}

// dispatchGeometry describes the work-group grid covering a placement region.
type dispatchGeometry struct {
	workgroupsX int
	workgroupsY int
	cellSize    float32
}

// gridWidth returns the total invocation count along x.
func (g dispatchGeometry) gridWidth() int { return g.workgroupsX * stencilDim }

// gridHeight returns the total invocation count along y.
func (g dispatchGeometry) gridHeight() int { return g.workgroupsY * stencilDim }

// candidateCount returns the total number of candidates the dispatch emits.
func (g dispatchGeometry) candidateCount() int { return g.gridWidth() * g.gridHeight() }

// computeDispatchGeometry sizes the work-group grid so the tiled stencil
// covers [lower, upper) without gaps. The region must be non-empty.
func computeDispatchGeometry(st *stencil, lower, upper mgl32.Vec2) dispatchGeometry {
	tile := float64(st.tileExtent())
	wx := int(math.Ceil(float64(upper.X()-lower.X()) / tile))
	wy := int(math.Ceil(float64(upper.Y()-lower.Y()) / tile))
	if wx < 1 {
		wx = 1
	}
	if wy < 1 {
		wy = 1
	}
	return dispatchGeometry{workgroupsX: wx, workgroupsY: wy, cellSize: st.cellSize()}
}

// sampleField samples a map texture, tolerating a nil heightmap (flat zero)
// or a nil density texture (uniform one).
func sampleField(t *MapTexture, u, v, missing float32) float32 {
	if t == nil {
		return missing
	}
	return t.Sample(u, v)
}

// computePlacementHost runs the four pipeline stages on the host. It mirrors
// the device kernels stage for stage: generation emits one candidate per
// stencil slot, evaluation lets classes contend in index order against the
// hashed threshold, and the compaction stages partition survivors by class.
//
// Returns the class-partitioned elements and the per-class counts.
func computePlacementHost(world WorldData, layer LayerData, st *stencil, lower, upper mgl32.Vec2) ([]Element, []uint32) {
	geom := computeDispatchGeometry(st, lower, upper)
	n := geom.candidateCount()
	k := len(layer.Densitymaps)

	positions := make([]mgl32.Vec3, n)
	classes := make([]uint32, n)
	uvs := make([]mgl32.Vec2, n)
	density := make([]float32, n)

	// Generation.
	gw := geom.gridWidth()
	for gy := 0; gy < geom.gridHeight(); gy++ {
		for gx := 0; gx < gw; gx++ {
			slot := st.slots[(gy%stencilDim)*stencilDim+gx%stencilDim]
			px := lower.X() + (float32(gx)+slot.X())*geom.cellSize
			pz := lower.Y() + (float32(gy)+slot.Y())*geom.cellSize
			u := px / world.Scale.X()
			v := pz / world.Scale.Z()
			h := sampleField(world.Heightmap, u, v, 0)
			i := gy*gw + gx
			positions[i] = mgl32.Vec3{px, h * world.Scale.Y(), pz}
			classes[i] = InvalidClass
			uvs[i] = mgl32.Vec2{u, v}
			density[i] = 0
		}
	}

	// Evaluation, one pass per class in index order.
	for ci := 0; ci < k; ci++ {
		dm := layer.Densitymaps[ci]
		for i := 0; i < n; i++ {
			px, pz := positions[i].X(), positions[i].Z()
			if px < lower.X() || px >= upper.X() || pz < lower.Y() || pz >= upper.Y() {
				continue
			}
			if classes[i] != InvalidClass {
				continue
			}
			d := sampleField(dm.Texture, uvs[i].X(), uvs[i].Y(), 1) * dm.Weight
			density[i] += d
			if density[i] >= candidateThreshold(uint32(i)) {
				classes[i] = uint32(ci)
			}
		}
	}

	// Indexation and copy, one pass per class so output ranges are
	// contiguous per class.
	counts := make([]uint32, k)
	elements := make([]Element, 0, n/4)
	for ci := 0; ci < k; ci++ {
		for i := 0; i < n; i++ {
			if classes[i] != uint32(ci) {
				continue
			}
			elements = append(elements, Element{Position: positions[i], ClassIndex: uint32(ci)})
			counts[ci]++
		}
	}
	return elements, counts
}
