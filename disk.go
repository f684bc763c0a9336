package placement

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"
)

// defaultMaxAttempts is the number of annulus samples tried per active point
// before it is retired, following Bridson's recommendation.
const defaultMaxAttempts = 30

// DiskDistribution incrementally generates 2D points over a toroidal
// rectangular domain such that no two points, including points from any of
// the 8 neighboring toroidal translations of the domain, are closer than the
// footprint. It is the host-side source of the placement stencil.
//
// The domain is partitioned into a background grid of gridW x gridH cells of
// side footprint/sqrt(2), so the domain extent is gridDims*footprint/sqrt(2)
// and each cell holds at most one point.
//
// A DiskDistribution is deterministic for a given (footprint, grid, seed).
// It is not safe for concurrent use.
type DiskDistribution struct {
	footprint   float64
	gridW       int
	gridH       int
	cellSize    float64
	boundsX     float64
	boundsY     float64
	maxAttempts int

	seed uint32
	rng  *rand.Rand

	grid    []int32 // cell -> point index, -1 when empty
	pointsX []float64
	pointsY []float64
	active  []int32
	started bool
}

// NewDiskDistribution creates a generator for the given footprint over a
// gridW x gridH toroidal cell grid. The footprint must be positive.
func NewDiskDistribution(footprint float32, gridW, gridH int) *DiskDistribution {
	d := &DiskDistribution{
		footprint:   float64(footprint),
		gridW:       gridW,
		gridH:       gridH,
		cellSize:    float64(footprint) / math.Sqrt2,
		maxAttempts: defaultMaxAttempts,
	}
	d.boundsX = float64(gridW) * d.cellSize
	d.boundsY = float64(gridH) * d.cellSize
	d.reset()
	return d
}

// SetSeed reseeds the generator and discards all generated points.
func (d *DiskDistribution) SetSeed(seed uint32) {
	d.seed = seed
	d.reset()
}

// SetMaxAttempts sets how many annulus candidates are tried per active point
// before the point is retired. Values below 1 restore the default.
func (d *DiskDistribution) SetMaxAttempts(n int) {
	if n < 1 {
		n = defaultMaxAttempts
	}
	d.maxAttempts = n
}

// Bounds returns the rectangular domain extent. Points lie in
// [0, Bounds().X()) x [0, Bounds().Y()).
func (d *DiskDistribution) Bounds() mgl32.Vec2 {
	return mgl32.Vec2{float32(d.boundsX), float32(d.boundsY)}
}

// Positions returns all accepted points in insertion order.
func (d *DiskDistribution) Positions() []mgl32.Vec2 {
	out := make([]mgl32.Vec2, len(d.pointsX))
	for i := range d.pointsX {
		out[i] = mgl32.Vec2{float32(d.pointsX[i]), float32(d.pointsY[i])}
	}
	return out
}

// Generate returns the next point of the distribution, or ErrSaturated when
// the domain admits no further point. The first call returns the seed point.
func (d *DiskDistribution) Generate() (mgl32.Vec2, error) {
	if !d.started {
		d.started = true
		x := d.rng.Float64() * d.boundsX
		y := d.rng.Float64() * d.boundsY
		d.insert(x, y)
		return mgl32.Vec2{float32(x), float32(y)}, nil
	}

	for len(d.active) > 0 {
		ai := d.rng.Intn(len(d.active))
		pi := d.active[ai]
		px, py := d.pointsX[pi], d.pointsY[pi]

		for k := 0; k < d.maxAttempts; k++ {
			angle := d.rng.Float64() * 2 * math.Pi
			dist := d.footprint * (1 + d.rng.Float64())
			x := wrap(px+dist*math.Cos(angle), d.boundsX)
			y := wrap(py+dist*math.Sin(angle), d.boundsY)
			if d.isValid(x, y) {
				d.insert(x, y)
				return mgl32.Vec2{float32(x), float32(y)}, nil
			}
		}

		// Retire the exhausted point: swap with last, then pop.
		d.active[ai] = d.active[len(d.active)-1]
		d.active = d.active[:len(d.active)-1]
	}

	return mgl32.Vec2{}, ErrSaturated
}

func (d *DiskDistribution) reset() {
	d.rng = rand.New(rand.NewSource(int64(d.seed)))
	d.grid = make([]int32, d.gridW*d.gridH)
	for i := range d.grid {
		d.grid[i] = -1
	}
	d.pointsX = d.pointsX[:0]
	d.pointsY = d.pointsY[:0]
	d.active = d.active[:0]
	d.started = false
}

// isValid reports whether (x, y) keeps the footprint separation against the
// 5x5 cell neighborhood, wrapped toroidally.
func (d *DiskDistribution) isValid(x, y float64) bool {
	gx := int(x / d.cellSize)
	gy := int(y / d.cellSize)
	if gx >= d.gridW {
		gx = d.gridW - 1
	}
	if gy >= d.gridH {
		gy = d.gridH - 1
	}

	r2 := d.footprint * d.footprint
	for dy := -2; dy <= 2; dy++ {
		ny := (gy + dy + d.gridH) % d.gridH
		for dx := -2; dx <= 2; dx++ {
			nx := (gx + dx + d.gridW) % d.gridW
			idx := d.grid[ny*d.gridW+nx]
			if idx < 0 {
				continue
			}
			ddx := toroidalDelta(x-d.pointsX[idx], d.boundsX)
			ddy := toroidalDelta(y-d.pointsY[idx], d.boundsY)
			if ddx*ddx+ddy*ddy < r2 {
				return false
			}
		}
	}
	return true
}

func (d *DiskDistribution) insert(x, y float64) {
	idx := int32(len(d.pointsX))
	d.pointsX = append(d.pointsX, x)
	d.pointsY = append(d.pointsY, y)
	d.active = append(d.active, idx)
	gx := int(x / d.cellSize)
	gy := int(y / d.cellSize)
	if gx >= d.gridW {
		gx = d.gridW - 1
	}
	if gy >= d.gridH {
		gy = d.gridH - 1
	}
	d.grid[gy*d.gridW+gx] = idx
}

// wrap maps v into [0, period).
func wrap(v, period float64) float64 {
	v = math.Mod(v, period)
	if v < 0 {
		v += period
	}
	return v
}

// toroidalDelta returns the minimum-image distance along one axis, as an
// absolute (non-negative) value.
func toroidalDelta(dv, period float64) float64 {
	dv = math.Abs(dv)
	if dv > period/2 {
		dv = period - dv
	}
	return dv
}
