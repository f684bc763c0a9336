package placement

import (
	"errors"

	"github.com/gogpu/placement/internal/gpu"
)

// Errors returned by the placement pipeline and its collaborators. The device
// errors are shared with the dispatcher so errors.Is matches across layers.
var (
	// ErrSaturated is returned by DiskDistribution.Generate when the domain
	// admits no further point, and wrapped by the pipeline when a stencil
	// cannot be built for the configured footprint.
	ErrSaturated = errors.New("placement: distribution saturated")

	// ErrDeviceLost is returned when the compute device fails during a
	// dispatch or a fence wait. The scratch buffer and the uploaded stencil
	// are invalidated; the pipeline stays on the device path and the next
	// dispatch recreates them.
	ErrDeviceLost = gpu.ErrDeviceLost

	// ErrAlignment is returned when a scratch sub-range offset does not meet
	// the device storage-buffer alignment.
	ErrAlignment = gpu.ErrAlignment

	// ErrNoLayer is returned by ComputePlacement when no layer has been
	// configured or the layer carries no density maps.
	ErrNoLayer = errors.New("placement: layer has no density maps")

	// ErrBadFootprint is returned when the configured footprint is not a
	// positive finite number.
	ErrBadFootprint = errors.New("placement: footprint must be positive")

	// ErrBadWorldScale is returned when the world scale has a non-positive
	// x or z extent, which would make the uv mapping degenerate.
	ErrBadWorldScale = errors.New("placement: world scale extents must be positive")
)
