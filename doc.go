// Package placement computes procedural object placements on a heightmapped
// world using a GPU compute pipeline with an identical CPU fallback.
//
// # Overview
//
// A placement layer distributes object classes (grass, rocks, trees) over a
// rectangular world region. Candidate positions come from a precomputed
// Poisson-disk stencil tiled across the region, so placements look organic
// while staying cheap to generate. Density maps steer where each class may
// appear, and classes contend for candidates in index order.
//
// The same region always yields the same placements, on either compute
// path, so streaming worlds can recompute regions on demand instead of
// storing them.
//
// # Quick Start
//
//	p := placement.NewPipeline()
//	if err := p.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	p.SetWorldData(placement.WorldData{
//	    Scale:     mgl32.Vec3{1024, 64, 1024},
//	    Heightmap: heightTex,
//	})
//	p.SetLayerData(placement.LayerData{
//	    Footprint: 2.5,
//	    Densitymaps: []placement.DensityMap{
//	        {Texture: grassTex, Weight: 1},
//	        {Texture: rockTex, Weight: 0.25},
//	    },
//	})
//
//	future, err := p.ComputePlacement(mgl32.Vec2{0, 0}, mgl32.Vec2{128, 128})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := future.ReadResult()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range result.CopyAllToHost() {
//	    // e.Position, e.ClassIndex
//	}
//
// # Architecture
//
// The library is organized into:
//   - Public API: PlacementPipeline, FutureResult, Result, MapTexture,
//     DiskDistribution
//   - Internal: gpu (WGSL kernels, dispatcher, scratch memory)
//
// ComputePlacement dispatches four kernel stages on the device and returns
// without waiting; ReadResult blocks on the fence. When no adapter opens,
// the pipeline runs a host implementation that mirrors the kernels bit for
// bit, including the shared integer hash that drives candidate acceptance.
//
// # Coordinate System
//
// Placement regions are world-space XZ rectangles, lower-inclusive and
// upper-exclusive. The heightmap and density maps are sampled at XZ
// normalized by the world scale, and heightmap samples scale by the world
// Y extent.
//
// # Requirements
//
//   - Go 1.25+
//   - gogpu/wgpu module (github.com/gogpu/wgpu)
//   - A GPU that supports Vulkan (optional; the host path needs none)
package placement
