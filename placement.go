package placement

import "github.com/go-gl/mathgl/mgl32"

// InvalidClass marks a candidate that no class claimed. Elements exposed
// through a Result never carry this value.
const InvalidClass uint32 = 0xFFFFFFFF

// stencilDim is the side of the square placement stencil. It matches the
// compute work-group dimensions (stencilDim x stencilDim invocations), so
// each invocation owns exactly one stencil slot.
const stencilDim = 8

// WorldData describes the world a layer of objects is placed into.
// The horizontal extent of the world is (Scale.X(), Scale.Z()); heightmap
// values are scaled by Scale.Y(). The heightmap is sampled bilinearly using
// normalized coordinates.
type WorldData struct {
	Scale     mgl32.Vec3
	Heightmap *MapTexture
}

// DensityMap associates a density texture with a contention weight.
// The sampled density is multiplied by Weight before it is compared against
// the per-candidate threshold; Weight is expected in [0, 1].
type DensityMap struct {
	Texture *MapTexture
	Weight  float32
}

// LayerData describes one layer of objects to place. The number of density
// maps equals the number of classes; classes contend for each candidate in
// index order. Footprint is the minimum permitted distance between any two
// placed objects, in world units.
type LayerData struct {
	Footprint   float32
	Densitymaps []DensityMap
}

// Element is one placed object: a world-space position and the index of the
// class that claimed it. The GPU representation is 16-byte aligned, position
// in the xyz slots and the class index in the w slot.
type Element struct {
	Position   mgl32.Vec3
	ClassIndex uint32
}
