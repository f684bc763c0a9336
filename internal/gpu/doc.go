// Package gpu drives the placement compute pipeline on a WebGPU device.
//
// This is an internal package used by the placement library. It leverages
// the gogpu/wgpu Pure Go WebGPU implementation (zero CGO), compiling the
// WGSL kernels to SPIR-V with gogpu/naga at initialization.
//
// # Pipeline
//
// One dispatch runs four kernel stages over a shared scratch buffer:
//
//	Generation -> Evaluation (per class) -> Indexation (per class) -> Copy (per class)
//
// Generation emits one candidate per stencil slot. Evaluation lets each
// class, in index order, claim unclaimed candidates whose accumulated
// density crosses a hashed threshold. Indexation draws dense output slots
// from an atomic cursor and Copy scatters the survivors, so each class ends
// up with one contiguous output range.
//
// Each stage runs in its own compute pass. The implicit storage-buffer
// barriers between passes order the class passes, which is what makes the
// output ranges contiguous and each class's set of elements deterministic.
// The order of elements inside a class range follows the atomic cursor and
// is not defined.
//
// # Memory
//
// All stages share sub-ranges of one scratch buffer, laid out by
// computeRangeLayout with 256-byte aligned offsets. Scratch and staging
// grow geometrically and are reused across dispatches. Results are copied
// to the staging buffer inside the same submission and read back when the
// caller waits on the returned Pending.
//
// Building with the nogpu tag replaces the dispatcher with a stub whose
// Init always fails, so callers stay on their host path.
package gpu
