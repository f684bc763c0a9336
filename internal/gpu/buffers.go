package gpu

import "fmt"

// storageAlign is the storage-buffer offset alignment the scratch sub-ranges
// honor. 256 satisfies every backend the hal exposes.
const storageAlign = 256

// candidateStride is the byte size of one candidate/output element:
// vec3 position plus a u32 class index, packed into 16 bytes.
const candidateStride = 16

// rangeLayout describes the sub-ranges of the scratch buffer:
//
//	[ candidate[N] | worldUV[N] | density[N] | index[N] | counts | output[N] ]
//
// Every offset is a multiple of storageAlign.
type rangeLayout struct {
	candidateOff  uint64
	candidateSize uint64
	uvOff         uint64
	uvSize        uint64
	densityOff    uint64
	densitySize   uint64
	indexOff      uint64
	indexSize     uint64
	countsOff     uint64
	countsSize    uint64
	outputOff     uint64
	outputSize    uint64
	total         uint64
}

// alignUp rounds v up to the next multiple of align.
func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}

// computeRangeLayout lays out the scratch sub-ranges for n candidates and
// the given class count, validating the alignment of every offset.
func computeRangeLayout(n uint32, classes int) (rangeLayout, error) {
	nn := uint64(n)
	var l rangeLayout
	off := uint64(0)

	l.candidateOff, l.candidateSize = off, nn*candidateStride
	off = alignUp(off+l.candidateSize, storageAlign)

	l.uvOff, l.uvSize = off, nn*8
	off = alignUp(off+l.uvSize, storageAlign)

	l.densityOff, l.densitySize = off, nn*4
	off = alignUp(off+l.densitySize, storageAlign)

	l.indexOff, l.indexSize = off, nn*4
	off = alignUp(off+l.indexSize, storageAlign)

	l.countsOff, l.countsSize = off, uint64(1+classes)*4
	off = alignUp(off+l.countsSize, storageAlign)

	l.outputOff, l.outputSize = off, nn*candidateStride
	l.total = alignUp(off+l.outputSize, storageAlign)

	for _, o := range []uint64{l.candidateOff, l.uvOff, l.densityOff, l.indexOff, l.countsOff, l.outputOff} {
		if o%storageAlign != 0 {
			return rangeLayout{}, fmt.Errorf("offset %d: %w", o, ErrAlignment)
		}
	}
	return l, nil
}

// growSize doubles from the current size until need fits, starting from a
// small floor so early dispatches do not thrash reallocation.
func growSize(current, need uint64) uint64 {
	const floor = 64 * 1024
	size := current
	if size < floor {
		size = floor
	}
	for size < need {
		size *= 2
	}
	return size
}
