package gpu

import (
	"encoding/binary"
	"math"
)

// Uniform parameter blocks for the four kernels. Field order and padding
// match the WGSL struct declarations; toBytes serializes little-endian.

// genParams matches GenParams in generation.wgsl (48 bytes).
type genParams struct {
	LowerX, LowerY float32
	CellSize       float32
	GridWidth      uint32
	ScaleX         float32
	ScaleY         float32
	ScaleZ         float32
	scalePad       float32
	MapWidth       uint32
	MapHeight      uint32
	pad0, pad1     uint32
}

func (p *genParams) toBytes() []byte {
	b := make([]byte, 48)
	putF32(b[0:], p.LowerX)
	putF32(b[4:], p.LowerY)
	putF32(b[8:], p.CellSize)
	binary.LittleEndian.PutUint32(b[12:], p.GridWidth)
	putF32(b[16:], p.ScaleX)
	putF32(b[20:], p.ScaleY)
	putF32(b[24:], p.ScaleZ)
	putF32(b[28:], p.scalePad)
	binary.LittleEndian.PutUint32(b[32:], p.MapWidth)
	binary.LittleEndian.PutUint32(b[36:], p.MapHeight)
	return b
}

// evalParams matches EvalParams in evaluation.wgsl (48 bytes).
type evalParams struct {
	LowerX, LowerY float32
	UpperX, UpperY float32
	Weight         float32
	ClassIndex     uint32
	MapWidth       uint32
	MapHeight      uint32
	CandidateCount uint32
}

func (p *evalParams) toBytes() []byte {
	b := make([]byte, 48)
	putF32(b[0:], p.LowerX)
	putF32(b[4:], p.LowerY)
	putF32(b[8:], p.UpperX)
	putF32(b[12:], p.UpperY)
	putF32(b[16:], p.Weight)
	binary.LittleEndian.PutUint32(b[20:], p.ClassIndex)
	binary.LittleEndian.PutUint32(b[24:], p.MapWidth)
	binary.LittleEndian.PutUint32(b[28:], p.MapHeight)
	binary.LittleEndian.PutUint32(b[32:], p.CandidateCount)
	return b
}

// classParams matches ClassParams in indexation.wgsl and copy.wgsl
// (16 bytes). The same uniform buffer feeds both kernels of a class pass.
type classParams struct {
	CandidateCount uint32
	ClassIndex     uint32
}

func (p *classParams) toBytes() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], p.CandidateCount)
	binary.LittleEndian.PutUint32(b[4:], p.ClassIndex)
	return b
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// floatsToBytes serializes a float32 slice little-endian for buffer upload.
func floatsToBytes(vals []float32) []byte {
	b := make([]byte, len(vals)*4)
	for i, v := range vals {
		putF32(b[i*4:], v)
	}
	return b
}
