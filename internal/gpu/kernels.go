//go:build !nogpu

package gpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// Embedded WGSL kernel sources, compiled to SPIR-V at Init.

//go:embed shaders/generation.wgsl
var generationShaderSource string

//go:embed shaders/evaluation.wgsl
var evaluationShaderSource string

//go:embed shaders/indexation.wgsl
var indexationShaderSource string

//go:embed shaders/copy.wgsl
var copyShaderSource string

// Stage identifies one of the four placement kernels. The stages always run
// in declaration order, with implicit storage-buffer barriers between the
// compute passes.
type Stage int

const (
	// StageGeneration emits one candidate per stencil slot.
	StageGeneration Stage = iota
	// StageEvaluation lets one class contend for unclaimed candidates.
	StageEvaluation
	// StageIndexation assigns dense output slots to one class's survivors.
	StageIndexation
	// StageCopy scatters one class's survivors into the output range.
	StageCopy

	stageCount
)

// String returns the stage name for logging.
func (s Stage) String() string {
	switch s {
	case StageGeneration:
		return "generation"
	case StageEvaluation:
		return "evaluation"
	case StageIndexation:
		return "indexation"
	case StageCopy:
		return "copy"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ShaderSource returns the WGSL source of a stage's kernel.
func (s Stage) ShaderSource() string {
	switch s {
	case StageGeneration:
		return generationShaderSource
	case StageEvaluation:
		return evaluationShaderSource
	case StageIndexation:
		return indexationShaderSource
	case StageCopy:
		return copyShaderSource
	default:
		return ""
	}
}

// compileStageShader compiles a stage's WGSL to SPIR-V and creates the
// shader module. SPIR-V is little-endian 32-bit words.
func compileStageShader(device hal.Device, s Stage) (hal.ShaderModule, error) {
	src := s.ShaderSource()
	if src == "" {
		return nil, fmt.Errorf("no shader source for %s", s)
	}
	spirvBytes, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile %s shader: %w", s, err)
	}
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "placement_" + s.String(),
		Source: hal.ShaderSource{SPIRV: spirvCode},
	})
}
