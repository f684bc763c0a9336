package placement

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/placement/internal/gpu"
)

// Result holds the outcome of one placement computation: the placed elements,
// partitioned into one contiguous range per class in class index order.
type Result struct {
	counts   []uint32
	starts   []uint32
	elements []Element

	// pending is retained when the result was produced on the device, so the
	// compacted output can still be copied device-to-device.
	pending *gpu.Pending
}

func newResult(elements []Element, counts []uint32, pending *gpu.Pending) *Result {
	starts := make([]uint32, len(counts))
	var acc uint32
	for k, c := range counts {
		starts[k] = acc
		acc += c
	}
	return &Result{counts: counts, starts: starts, elements: elements, pending: pending}
}

// NumClasses returns the number of classes the computation ran with.
func (r *Result) NumClasses() int { return len(r.counts) }

// ElementArrayLength returns the total number of placed elements across all
// classes.
func (r *Result) ElementArrayLength() int { return len(r.elements) }

// ClassElementCount returns the number of elements class k placed.
func (r *Result) ClassElementCount(k int) int {
	if k < 0 || k >= len(r.counts) {
		return 0
	}
	return int(r.counts[k])
}

// CopyAllToHost returns a copy of the full element array. Elements of the
// same class are contiguous, classes appear in index order.
func (r *Result) CopyAllToHost() []Element {
	out := make([]Element, len(r.elements))
	copy(out, r.elements)
	return out
}

// CopyClassToHost returns a copy of class k's elements.
func (r *Result) CopyClassToHost(k int) []Element {
	if k < 0 || k >= len(r.counts) {
		return nil
	}
	lo := r.starts[k]
	hi := lo + r.counts[k]
	out := make([]Element, r.counts[k])
	copy(out, r.elements[lo:hi])
	return out
}

// CopyAllToDevice copies the compacted element array into a caller-supplied
// device buffer without a host round trip. dst must be a hal.Buffer with
// CopyDst usage and room for ElementArrayLength()*16 bytes at dstOffset. The
// copy stays valid only until the next computation reuses the scratch
// buffer, so issue it before dispatching again.
//
// Results produced on the host path have no device copy to source from.
func (r *Result) CopyAllToDevice(dst any, dstOffset uint64) error {
	if r.pending == nil {
		return fmt.Errorf("placement: result is not resident on the device")
	}
	return r.pending.CopyOutputTo(dst, dstOffset, uint32(len(r.elements)))
}

// FutureResult is a handle to a placement computation that may still be
// running on the device. ReadResult blocks until the outcome is available;
// repeated calls return the same cached outcome.
type FutureResult struct {
	mu      sync.Mutex
	pending *gpu.Pending
	res     *Result
	err     error
}

// newReadyFuture wraps an already-computed host result.
func newReadyFuture(elements []Element, counts []uint32) *FutureResult {
	return &FutureResult{res: newResult(elements, counts, nil)}
}

// newPendingFuture wraps an in-flight device dispatch.
func newPendingFuture(p *gpu.Pending) *FutureResult {
	return &FutureResult{pending: p}
}

// ReadResult blocks until the computation finishes and returns its result.
// On a device error the error wraps ErrDeviceLost and the result is nil.
func (f *FutureResult) ReadResult() (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return f.res, f.err
	}
	counts, raw, err := f.pending.Wait()
	if err != nil {
		f.err = err
		f.pending = nil
		return nil, f.err
	}
	elements := make([]Element, len(raw))
	for i, e := range raw {
		elements[i] = Element{Position: mgl32.Vec3{e.X, e.Y, e.Z}, ClassIndex: e.Class}
	}
	f.res = newResult(elements, counts, f.pending)
	f.pending = nil
	return f.res, nil
}
