// Command placement-demo runs a placement over a synthetic world and prints
// the per-class element counts.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/placement"
)

func main() {
	var (
		extent    = flag.Float64("extent", 64, "region side length")
		footprint = flag.Float64("footprint", 1.5, "object footprint")
		seed      = flag.Uint("seed", 0, "stencil seed")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	placement.SetLogger(logger)

	p := placement.NewPipeline()
	if err := p.Init(); err != nil {
		log.Fatalf("init pipeline: %v", err)
	}
	defer p.Close()

	p.SetWorldData(placement.WorldData{
		Scale:     mgl32.Vec3{float32(*extent), 16, float32(*extent)},
		Heightmap: rollingHills(128),
	})
	p.SetLayerData(placement.LayerData{
		Footprint: float32(*footprint),
		Densitymaps: []placement.DensityMap{
			{Texture: radialFalloff(64), Weight: 1},
			{Texture: nil, Weight: 0.3},
		},
	})
	p.SetSeed(uint32(*seed))

	future, err := p.ComputePlacement(mgl32.Vec2{0, 0}, mgl32.Vec2{float32(*extent), float32(*extent)})
	if err != nil {
		log.Fatalf("compute placement: %v", err)
	}
	result, err := future.ReadResult()
	if err != nil {
		log.Fatalf("read result: %v", err)
	}

	path := "host"
	if p.UsingDevice() {
		path = "device"
	}
	fmt.Printf("Placed %d elements over %gx%g on the %s path\n",
		result.ElementArrayLength(), *extent, *extent, path)
	for k := 0; k < result.NumClasses(); k++ {
		fmt.Printf("  class %d: %d\n", k, result.ClassElementCount(k))
	}
}

// rollingHills builds a smooth sinusoidal heightmap.
func rollingHills(n int) *placement.MapTexture {
	values := make([]float32, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			u := float64(x) / float64(n)
			v := float64(y) / float64(n)
			h := 0.5 + 0.25*math.Sin(2*math.Pi*3*u) + 0.25*math.Cos(2*math.Pi*2*v)
			values[y*n+x] = float32(h)
		}
	}
	return placement.NewMapTextureFromValues(n, n, values)
}

// radialFalloff builds a density map that fades from the center outward.
func radialFalloff(n int) *placement.MapTexture {
	values := make([]float32, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			du := float64(x)/float64(n) - 0.5
			dv := float64(y)/float64(n) - 0.5
			d := math.Sqrt(du*du+dv*dv) * 2
			values[y*n+x] = float32(math.Max(0, 1-d))
		}
	}
	return placement.NewMapTextureFromValues(n, n, values)
}
