//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// dispatchFenceTimeout bounds how long a readback waits for the device.
const dispatchFenceTimeout = 5 * time.Second

// evalWorkgroupSize is the linear work-group size of the evaluation,
// indexation and copy kernels.
const evalWorkgroupSize = 64

// Dispatcher owns the compute device and the four placement pipelines. It
// encodes the full dispatch sequence for a placement request and hands back
// a Pending handle carrying the fence.
//
// The scratch buffer is grown geometrically and reused across dispatches.
// A Dispatcher is safe for concurrent use; dispatches are serialized.
type Dispatcher struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	shaders     [stageCount]hal.ShaderModule
	bindLayouts [stageCount]hal.BindGroupLayout
	pipeLayouts [stageCount]hal.PipelineLayout
	pipelines   [stageCount]hal.ComputePipeline

	scratch     hal.Buffer
	scratchSize uint64
	staging     hal.Buffer
	stagingSize uint64

	stencilBuf     hal.Buffer
	stencilVersion uint64

	pending     *Pending
	initialized bool
}

// NewDispatcher returns an uninitialized dispatcher. Call Init before
// dispatching.
func NewDispatcher() *Dispatcher { return &Dispatcher{} }

// Ready reports whether Init succeeded and the device is usable.
func (d *Dispatcher) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Init opens the compute device and builds the four pipelines. It is
// idempotent; a failed Init rolls back everything it created.
func (d *Dispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("open device: %w", err)
	}
	d.instance = instance
	d.device = openDev.Device
	d.queue = openDev.Queue

	for s := StageGeneration; s < stageCount; s++ {
		if err := d.createStagePipeline(s); err != nil {
			d.destroyPartialInit(s)
			return err
		}
	}

	d.initialized = true
	slogger().Info("placement dispatcher initialized", "adapter", selected.Info.Name)
	return nil
}

func (d *Dispatcher) createStagePipeline(s Stage) error {
	shader, err := compileStageShader(d.device, s)
	if err != nil {
		return err
	}
	d.shaders[s] = shader

	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "placement_" + s.String() + "_bind_layout",
		Entries: stageBindGroupLayoutEntries(s),
	})
	if err != nil {
		return fmt.Errorf("create %s bind group layout: %w", s, err)
	}
	d.bindLayouts[s] = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "placement_" + s.String() + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create %s pipeline layout: %w", s, err)
	}
	d.pipeLayouts[s] = pipeLayout

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   "placement_" + s.String() + "_pipeline",
		Layout:  pipeLayout,
		Compute: hal.ComputeState{Module: shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create %s compute pipeline: %w", s, err)
	}
	d.pipelines[s] = pipeline
	return nil
}

// destroyPartialInit unwinds pipeline creation after a mid-Init failure.
func (d *Dispatcher) destroyPartialInit(upTo Stage) {
	for s := StageGeneration; s <= upTo && s < stageCount; s++ {
		if d.pipelines[s] != nil {
			d.device.DestroyComputePipeline(d.pipelines[s])
			d.pipelines[s] = nil
		}
		if d.pipeLayouts[s] != nil {
			d.device.DestroyPipelineLayout(d.pipeLayouts[s])
			d.pipeLayouts[s] = nil
		}
		if d.bindLayouts[s] != nil {
			d.device.DestroyBindGroupLayout(d.bindLayouts[s])
			d.bindLayouts[s] = nil
		}
		if d.shaders[s] != nil {
			d.device.DestroyShaderModule(d.shaders[s])
			d.shaders[s] = nil
		}
	}
	d.device.Destroy()
	d.device = nil
	d.queue = nil
	d.instance.Destroy()
	d.instance = nil
}

// Close releases all device resources. The dispatcher can be re-initialized
// afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return
	}
	d.reclaimPendingLocked()
	d.destroyTransientBuffersLocked()
	for s := StageGeneration; s < stageCount; s++ {
		if d.pipelines[s] != nil {
			d.device.DestroyComputePipeline(d.pipelines[s])
			d.pipelines[s] = nil
		}
		if d.pipeLayouts[s] != nil {
			d.device.DestroyPipelineLayout(d.pipeLayouts[s])
			d.pipeLayouts[s] = nil
		}
		if d.bindLayouts[s] != nil {
			d.device.DestroyBindGroupLayout(d.bindLayouts[s])
			d.bindLayouts[s] = nil
		}
		if d.shaders[s] != nil {
			d.device.DestroyShaderModule(d.shaders[s])
			d.shaders[s] = nil
		}
	}
	d.device.Destroy()
	d.device = nil
	d.queue = nil
	d.instance.Destroy()
	d.instance = nil
	d.initialized = false
}

func (d *Dispatcher) destroyTransientBuffersLocked() {
	if d.scratch != nil {
		d.device.DestroyBuffer(d.scratch)
		d.scratch = nil
		d.scratchSize = 0
	}
	if d.staging != nil {
		d.device.DestroyBuffer(d.staging)
		d.staging = nil
		d.stagingSize = 0
	}
	if d.stencilBuf != nil {
		d.device.DestroyBuffer(d.stencilBuf)
		d.stencilBuf = nil
		d.stencilVersion = 0
	}
}

// markLostLocked invalidates device-side state after a failed submit or
// fence wait, per the device-lost contract.
func (d *Dispatcher) markLostLocked() {
	d.destroyTransientBuffersLocked()
}

// reclaimPendingLocked finishes and releases an abandoned in-flight
// dispatch so its buffers can be reused.
func (d *Dispatcher) reclaimPendingLocked() {
	p := d.pending
	if p == nil {
		return
	}
	if !p.done {
		d.device.Wait(p.fence, 1, dispatchFenceTimeout)
		p.done = true
	}
	p.releaseLocked()
	d.pending = nil
}

// uniformEntry declares a uniform buffer slot in a bind group layout.
func uniformEntry(binding uint32) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
}

// storageRO declares a read-only storage buffer slot.
func storageRO(binding uint32) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
	}
}

// storageRW declares a read-write storage buffer slot.
func storageRW(binding uint32) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
	}
}

// stageBindGroupLayoutEntries returns the bind group layout of a stage.
// Binding order matches the WGSL declarations.
func stageBindGroupLayoutEntries(s Stage) []gputypes.BindGroupLayoutEntry {
	switch s {
	case StageGeneration:
		return []gputypes.BindGroupLayoutEntry{
			uniformEntry(0), // GenParams
			storageRO(1),    // stencil
			storageRO(2),    // heightmap
			storageRW(3),    // candidates
			storageRW(4),    // worldUV
			storageRW(5),    // density
			storageRW(6),    // indices
		}
	case StageEvaluation:
		return []gputypes.BindGroupLayoutEntry{
			uniformEntry(0), // EvalParams
			storageRO(1),    // density map
			storageRW(2),    // candidates
			storageRO(3),    // worldUV
			storageRW(4),    // density
		}
	case StageIndexation:
		return []gputypes.BindGroupLayoutEntry{
			uniformEntry(0), // ClassParams
			storageRO(1),    // candidates
			storageRW(2),    // indices
			storageRW(3),    // counts
		}
	case StageCopy:
		return []gputypes.BindGroupLayoutEntry{
			uniformEntry(0), // ClassParams
			storageRO(1),    // candidates
			storageRO(2),    // indices
			storageRW(3),    // output
		}
	default:
		return nil
	}
}

// bufferRange binds a sub-range of a buffer.
func bufferRange(binding uint32, buf hal.Buffer, off, size uint64) gputypes.BindGroupEntry {
	return gputypes.BindGroupEntry{
		Binding:  binding,
		Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: off, Size: size},
	}
}

func (d *Dispatcher) ensureScratchLocked(need uint64) error {
	if d.scratch != nil && d.scratchSize >= need {
		return nil
	}
	size := growSize(d.scratchSize, need)
	if d.scratch != nil {
		d.device.DestroyBuffer(d.scratch)
		d.scratch = nil
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "placement_scratch", Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.scratchSize = 0
		return fmt.Errorf("create scratch buffer: %w", err)
	}
	d.scratch = buf
	d.scratchSize = size
	slogger().Debug("scratch buffer grown", "size", size)
	return nil
}

func (d *Dispatcher) ensureStagingLocked(need uint64) error {
	if d.staging != nil && d.stagingSize >= need {
		return nil
	}
	size := growSize(d.stagingSize, need)
	if d.staging != nil {
		d.device.DestroyBuffer(d.staging)
		d.staging = nil
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "placement_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.stagingSize = 0
		return fmt.Errorf("create staging buffer: %w", err)
	}
	d.staging = buf
	d.stagingSize = size
	return nil
}

func (d *Dispatcher) ensureStencilLocked(in *Input) error {
	if d.stencilBuf != nil && d.stencilVersion == in.StencilVersion {
		return nil
	}
	if d.stencilBuf == nil {
		buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "placement_stencil", Size: uint64(len(in.Stencil) * 4),
			Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create stencil buffer: %w", err)
		}
		d.stencilBuf = buf
	}
	d.queue.WriteBuffer(d.stencilBuf, 0, floatsToBytes(in.Stencil))
	d.stencilVersion = in.StencilVersion
	return nil
}

// createFieldBuffer uploads a scalar field as a read-only storage buffer.
func (d *Dispatcher) createFieldBuffer(label string, f FieldData) (hal.Buffer, error) {
	values := f.Values
	if len(values) == 0 {
		values = []float32{0}
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label, Size: uint64(len(values) * 4),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", label, err)
	}
	d.queue.WriteBuffer(buf, 0, floatsToBytes(values))
	return buf, nil
}

// createUniform uploads one parameter block.
func (d *Dispatcher) createUniform(label string, data []byte) (hal.Buffer, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label, Size: uint64(len(data)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s uniform: %w", label, err)
	}
	d.queue.WriteBuffer(buf, 0, data)
	return buf, nil
}

// Dispatch encodes and submits the full placement sequence:
// generation, per-class evaluation, then per-class indexation and copy.
// Separate compute passes give the storage-buffer barriers between stages.
// It returns a Pending handle immediately; the device may still be working.
func (d *Dispatcher) Dispatch(in *Input) (*Pending, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, ErrNotReady
	}
	d.reclaimPendingLocked()

	n := in.CandidateCount()
	classes := len(in.Densitymaps)
	layout, err := computeRangeLayout(n, classes)
	if err != nil {
		return nil, err
	}
	countsAlloc := alignUp(layout.countsSize, storageAlign)
	if err := d.ensureScratchLocked(layout.total); err != nil {
		return nil, err
	}
	if err := d.ensureStagingLocked(countsAlloc + layout.outputSize); err != nil {
		return nil, err
	}
	if err := d.ensureStencilLocked(in); err != nil {
		return nil, err
	}

	p := &Pending{
		d:           d,
		layout:      layout,
		countsAlloc: countsAlloc,
		classes:     classes,
		candidates:  n,
	}
	ok := false
	defer func() {
		if !ok {
			p.releaseLocked()
		}
	}()

	heightBuf, err := d.createFieldBuffer("placement_heightmap", in.Heightmap)
	if err != nil {
		return nil, err
	}
	p.buffers = append(p.buffers, heightBuf)

	densityBufs := make([]hal.Buffer, classes)
	for k := 0; k < classes; k++ {
		buf, err := d.createFieldBuffer("placement_densitymap", in.Densitymaps[k].FieldData)
		if err != nil {
			return nil, err
		}
		densityBufs[k] = buf
		p.buffers = append(p.buffers, buf)
	}

	gp := genParams{
		LowerX: in.Lower[0], LowerY: in.Lower[1],
		CellSize:  in.CellSize,
		GridWidth: in.WorkgroupsX * WorkgroupDim,
		ScaleX:    in.WorldScale[0], ScaleY: in.WorldScale[1], ScaleZ: in.WorldScale[2],
		MapWidth: in.Heightmap.Width, MapHeight: in.Heightmap.Height,
	}
	genU, err := d.createUniform("placement_gen_params", gp.toBytes())
	if err != nil {
		return nil, err
	}
	p.buffers = append(p.buffers, genU)

	evalUs := make([]hal.Buffer, classes)
	classUs := make([]hal.Buffer, classes)
	for k := 0; k < classes; k++ {
		ep := evalParams{
			LowerX: in.Lower[0], LowerY: in.Lower[1],
			UpperX: in.Upper[0], UpperY: in.Upper[1],
			Weight:     in.Densitymaps[k].Weight,
			ClassIndex: uint32(k),
			MapWidth:   in.Densitymaps[k].Width, MapHeight: in.Densitymaps[k].Height,
			CandidateCount: n,
		}
		evalUs[k], err = d.createUniform("placement_eval_params", ep.toBytes())
		if err != nil {
			return nil, err
		}
		p.buffers = append(p.buffers, evalUs[k])

		cp := classParams{CandidateCount: n, ClassIndex: uint32(k)}
		classUs[k], err = d.createUniform("placement_class_params", cp.toBytes())
		if err != nil {
			return nil, err
		}
		p.buffers = append(p.buffers, classUs[k])
	}

	// The atomic counters must start at zero every dispatch.
	d.queue.WriteBuffer(d.scratch, layout.countsOff, make([]byte, layout.countsSize))

	genBG, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "placement_gen_bind", Layout: d.bindLayouts[StageGeneration],
		Entries: []gputypes.BindGroupEntry{
			bufferRange(0, genU, 0, 48),
			bufferRange(1, d.stencilBuf, 0, uint64(len(in.Stencil)*4)),
			bufferRange(2, heightBuf, 0, fieldSize(in.Heightmap)),
			bufferRange(3, d.scratch, layout.candidateOff, layout.candidateSize),
			bufferRange(4, d.scratch, layout.uvOff, layout.uvSize),
			bufferRange(5, d.scratch, layout.densityOff, layout.densitySize),
			bufferRange(6, d.scratch, layout.indexOff, layout.indexSize),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create generation bind group: %w", err)
	}
	p.bindGroups = append(p.bindGroups, genBG)

	evalBGs := make([]hal.BindGroup, classes)
	idxBGs := make([]hal.BindGroup, classes)
	copyBGs := make([]hal.BindGroup, classes)
	for k := 0; k < classes; k++ {
		evalBGs[k], err = d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "placement_eval_bind", Layout: d.bindLayouts[StageEvaluation],
			Entries: []gputypes.BindGroupEntry{
				bufferRange(0, evalUs[k], 0, 48),
				bufferRange(1, densityBufs[k], 0, fieldSize(in.Densitymaps[k].FieldData)),
				bufferRange(2, d.scratch, layout.candidateOff, layout.candidateSize),
				bufferRange(3, d.scratch, layout.uvOff, layout.uvSize),
				bufferRange(4, d.scratch, layout.densityOff, layout.densitySize),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create evaluation bind group %d: %w", k, err)
		}
		p.bindGroups = append(p.bindGroups, evalBGs[k])

		idxBGs[k], err = d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "placement_index_bind", Layout: d.bindLayouts[StageIndexation],
			Entries: []gputypes.BindGroupEntry{
				bufferRange(0, classUs[k], 0, 16),
				bufferRange(1, d.scratch, layout.candidateOff, layout.candidateSize),
				bufferRange(2, d.scratch, layout.indexOff, layout.indexSize),
				bufferRange(3, d.scratch, layout.countsOff, layout.countsSize),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create indexation bind group %d: %w", k, err)
		}
		p.bindGroups = append(p.bindGroups, idxBGs[k])

		copyBGs[k], err = d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "placement_copy_bind", Layout: d.bindLayouts[StageCopy],
			Entries: []gputypes.BindGroupEntry{
				bufferRange(0, classUs[k], 0, 16),
				bufferRange(1, d.scratch, layout.candidateOff, layout.candidateSize),
				bufferRange(2, d.scratch, layout.indexOff, layout.indexSize),
				bufferRange(3, d.scratch, layout.outputOff, layout.outputSize),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create copy bind group %d: %w", k, err)
		}
		p.bindGroups = append(p.bindGroups, copyBGs[k])
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "placement_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("placement"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}

	linearGroups := (n + evalWorkgroupSize - 1) / evalWorkgroupSize

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "placement_generation"})
	pass.SetPipeline(d.pipelines[StageGeneration])
	pass.SetBindGroup(0, genBG, nil)
	pass.Dispatch(in.WorkgroupsX, in.WorkgroupsY, 1)
	pass.End()
	slogger().Debug("encoded stage", "stage", StageGeneration,
		"workgroups_x", in.WorkgroupsX, "workgroups_y", in.WorkgroupsY, "candidates", n)

	// One evaluation pass per class, in class index order: first class to
	// cross the threshold claims the candidate.
	for k := 0; k < classes; k++ {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "placement_evaluation"})
		pass.SetPipeline(d.pipelines[StageEvaluation])
		pass.SetBindGroup(0, evalBGs[k], nil)
		pass.Dispatch(linearGroups, 1, 1)
		pass.End()
		slogger().Debug("encoded stage", "stage", StageEvaluation, "class", k, "workgroups", linearGroups)
	}

	// Indexation and copy per class, in class index order. The shared
	// output cursor makes each class's slots a contiguous range directly
	// after the previous class's range.
	for k := 0; k < classes; k++ {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "placement_indexation"})
		pass.SetPipeline(d.pipelines[StageIndexation])
		pass.SetBindGroup(0, idxBGs[k], nil)
		pass.Dispatch(linearGroups, 1, 1)
		pass.End()

		pass = encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "placement_copy"})
		pass.SetPipeline(d.pipelines[StageCopy])
		pass.SetBindGroup(0, copyBGs[k], nil)
		pass.Dispatch(linearGroups, 1, 1)
		pass.End()
		slogger().Debug("encoded stage", "stage", StageCopy, "class", k, "workgroups", linearGroups)
	}

	encoder.CopyBufferToBuffer(d.scratch, d.staging, []hal.BufferCopy{
		{SrcOffset: layout.countsOff, DstOffset: 0, Size: layout.countsSize},
		{SrcOffset: layout.outputOff, DstOffset: countsAlloc, Size: layout.outputSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	p.cmdBuf = cmdBuf

	fence, err := d.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("create fence: %w", err)
	}
	p.fence = fence

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		d.markLostLocked()
		return nil, fmt.Errorf("submit: %w: %v", ErrDeviceLost, err)
	}

	ok = true
	d.pending = p
	return p, nil
}

func fieldSize(f FieldData) uint64 {
	if len(f.Values) == 0 {
		return 4
	}
	return uint64(len(f.Values) * 4)
}

// Pending is an in-flight dispatch: a fence plus the staging ranges the
// results land in. Wait may be called once; further calls return the cached
// outcome.
type Pending struct {
	d           *Dispatcher
	fence       hal.Fence
	cmdBuf      hal.CommandBuffer
	layout      rangeLayout
	countsAlloc uint64
	classes     int
	candidates  uint32

	buffers    []hal.Buffer
	bindGroups []hal.BindGroup

	done     bool
	counts   []uint32
	elements []Element
	err      error
}

// Wait blocks on the fence, reads back the counts and the compacted output,
// and releases the per-dispatch resources. It returns the per-class counts
// and the class-partitioned elements.
func (p *Pending) Wait() ([]uint32, []Element, error) {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	if p.done {
		return p.counts, p.elements, p.err
	}
	p.done = true
	p.counts, p.elements, p.err = p.waitLocked()
	p.releaseLocked()
	if p.d.pending == p {
		p.d.pending = nil
	}
	if p.err != nil {
		p.d.markLostLocked()
	}
	return p.counts, p.elements, p.err
}

func (p *Pending) waitLocked() ([]uint32, []Element, error) {
	d := p.d
	fenceOK, err := d.device.Wait(p.fence, 1, dispatchFenceTimeout)
	if err != nil || !fenceOK {
		return nil, nil, fmt.Errorf("wait for device: ok=%v: %w: %v", fenceOK, ErrDeviceLost, err)
	}

	readback := make([]byte, p.countsAlloc+p.layout.outputSize)
	if err := d.queue.ReadBuffer(d.staging, 0, readback); err != nil {
		return nil, nil, fmt.Errorf("readback: %w: %v", ErrDeviceLost, err)
	}

	total := binary.LittleEndian.Uint32(readback[0:])
	if total > p.candidates {
		return nil, nil, fmt.Errorf("readback total %d exceeds candidate count %d: %w", total, p.candidates, ErrDeviceLost)
	}
	counts := make([]uint32, p.classes)
	for k := 0; k < p.classes; k++ {
		counts[k] = binary.LittleEndian.Uint32(readback[4+k*4:])
	}

	elements := make([]Element, total)
	base := p.countsAlloc
	for i := range elements {
		off := base + uint64(i)*candidateStride
		elements[i] = Element{
			X:     math.Float32frombits(binary.LittleEndian.Uint32(readback[off:])),
			Y:     math.Float32frombits(binary.LittleEndian.Uint32(readback[off+4:])),
			Z:     math.Float32frombits(binary.LittleEndian.Uint32(readback[off+8:])),
			Class: binary.LittleEndian.Uint32(readback[off+12:]),
		}
	}
	return counts, elements, nil
}

// releaseLocked destroys the per-dispatch resources. Idempotent.
func (p *Pending) releaseLocked() {
	d := p.d
	if d.device == nil {
		return
	}
	for _, bg := range p.bindGroups {
		if bg != nil {
			d.device.DestroyBindGroup(bg)
		}
	}
	p.bindGroups = nil
	for _, buf := range p.buffers {
		if buf != nil {
			d.device.DestroyBuffer(buf)
		}
	}
	p.buffers = nil
	if p.cmdBuf != nil {
		d.device.FreeCommandBuffer(p.cmdBuf)
		p.cmdBuf = nil
	}
	if p.fence != nil {
		d.device.DestroyFence(p.fence)
		p.fence = nil
	}
}

// CopyOutput copies the compacted output range of the last waited dispatch
// into a caller-supplied device buffer. The destination must have CopyDst
// usage and room for size bytes at dstOffset. Valid until the next Dispatch
// overwrites the scratch buffer.
func (d *Dispatcher) CopyOutput(dst hal.Buffer, dstOffset, size uint64, layoutOutputOff uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized || d.scratch == nil {
		return ErrNotReady
	}
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "placement_copy_out"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("placement_copy_out"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(d.scratch, dst, []hal.BufferCopy{
		{SrcOffset: layoutOutputOff, DstOffset: dstOffset, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w: %v", ErrDeviceLost, err)
	}
	fenceOK, err := d.device.Wait(fence, 1, dispatchFenceTimeout)
	if err != nil || !fenceOK {
		return fmt.Errorf("wait for device: ok=%v: %w: %v", fenceOK, ErrDeviceLost, err)
	}
	return nil
}

// OutputRange exposes the output sub-range of a pending's layout so the root
// package can drive CopyOutput for device-to-device result copies.
func (p *Pending) OutputRange() (offset, elemStride uint64) {
	return p.layout.outputOff, candidateStride
}

// CopyOutputTo copies the first n compacted elements into dst, which must be
// a hal.Buffer with CopyDst usage. The destination is accepted as any so
// callers outside this package need not name the hal types.
func (p *Pending) CopyOutputTo(dst any, dstOffset uint64, n uint32) error {
	buf, ok := dst.(hal.Buffer)
	if !ok {
		return fmt.Errorf("gpu: destination %T is not a device buffer", dst)
	}
	return p.d.CopyOutput(buf, dstOffset, uint64(n)*candidateStride, p.layout.outputOff)
}
