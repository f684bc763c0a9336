package gpu

import "errors"

// Errors shared by the dispatcher and re-exported by the root package.
var (
	// ErrDeviceLost reports a failed submit, fence wait or readback. The
	// scratch buffer and the uploaded stencil are invalidated.
	ErrDeviceLost = errors.New("gpu: compute device lost")

	// ErrAlignment reports a scratch sub-range offset that is not a
	// multiple of the storage-buffer alignment.
	ErrAlignment = errors.New("gpu: buffer range alignment violation")

	// ErrNotReady reports use of a dispatcher whose Init did not succeed.
	ErrNotReady = errors.New("gpu: dispatcher not initialized")
)

// InvalidClass mirrors the sentinel the kernels write for unclaimed
// candidates and unused index slots.
const InvalidClass uint32 = 0xFFFFFFFF

// WorkgroupDim is the side of the square generation work-group. The stencil
// carries WorkgroupDim*WorkgroupDim slots, one per invocation.
const WorkgroupDim = 8

// FieldData is a scalar field uploaded as a read-only storage buffer and
// sampled bilinearly by the kernels.
type FieldData struct {
	Width  uint32
	Height uint32
	Values []float32
}

// DensityField is one class's density field with its contention weight.
type DensityField struct {
	FieldData
	Weight float32
}

// Input carries everything one placement dispatch needs. All coordinates are
// world-space XZ.
type Input struct {
	// Stencil holds WorkgroupDim*WorkgroupDim interleaved (x, y) offsets in
	// generation-cell units. StencilVersion changes whenever the slots do,
	// so the device copy is re-uploaded only then.
	Stencil        []float32
	StencilVersion uint64

	// CellSize is the world-space side of one generation cell.
	CellSize float32

	Lower [2]float32
	Upper [2]float32

	WorkgroupsX uint32
	WorkgroupsY uint32

	WorldScale [3]float32
	Heightmap  FieldData

	Densitymaps []DensityField
}

// CandidateCount returns the number of candidates the dispatch emits.
func (in *Input) CandidateCount() uint32 {
	return in.WorkgroupsX * in.WorkgroupsY * WorkgroupDim * WorkgroupDim
}

// Element is one placed object as read back from the device: position in
// the xyz slots, claiming class in the w slot.
type Element struct {
	X, Y, Z float32
	Class   uint32
}
