package v3d

import (
	"context"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/bo"
	"github.com/gogpu/v3d/cl"
)

// Level distinguishes primary command buffers, which submit on their
// own, from secondary ones, which execute inside a primary.
type Level uint8

const (
	LevelPrimary Level = iota
	LevelSecondary
)

// Status is the command buffer lifecycle state.
type Status uint8

const (
	StatusNew Status = iota
	StatusInitialized
	StatusRecording
	StatusExecutable
	StatusFailed
)

// UsageFlags qualify a recording session.
type UsageFlags uint8

const (
	// UsageOneTime marks the buffer for a single submission.
	UsageOneTime UsageFlags = 1 << iota
	// UsageRenderPassContinue marks a secondary buffer recorded
	// entirely inside one subpass of the primary's render pass.
	UsageRenderPassContinue
)

// outsidePass is the subpass index sentinel for "not in a render
// pass".
const outsidePass = ^uint32(0)

// maxVertexBuffers is the number of vertex buffer binding slots.
const maxVertexBuffers = 16

// maxPushConstants is the push constant buffer size in bytes.
const maxPushConstants = 128

type dirtyBits uint32

const (
	dirtyPipeline dirtyBits = 1 << iota
	dirtyVertexBuffers
	dirtyIndexBuffer
	dirtyDescriptors
	dirtyPushConstants
	dirtyViewport
	dirtyScissor
	dirtyStencil
	dirtyBlendConstants
	dirtyDepthBias
	dirtyLineWidth
	dirtyOcclusionQuery

	dirtyAll = dirtyBits(1<<iota) - 1
)

// Rect is a pixel rectangle in framebuffer coordinates.
type Rect struct {
	X, Y uint32
	W, H uint32
}

// Viewport is the API viewport transform.
type Viewport struct {
	X, Y, W, H         float32
	MinDepth, MaxDepth float32
}

// ClearValue carries both the color and depth/stencil interpretation;
// the attachment format selects which half is meaningful.
type ClearValue struct {
	Color   gputypes.Color
	Depth   float32
	Stencil uint8
}

// VertexBinding is one bound vertex buffer.
type VertexBinding struct {
	BO     *bo.BO
	Offset uint32
}

// IndexBinding is the bound index buffer.
type IndexBinding struct {
	BO     *bo.BO
	Offset uint32
	Type   cl.IndexType
}

// DescriptorState is the opaque summary of the bound descriptor sets
// that draw emission folds into shader variant keys.
type DescriptorState struct {
	// TexStateHash changes whenever a bound view's texture return
	// size or channel configuration changes.
	TexStateHash uint64

	// BOs lists the buffers the bound sets reference; they join the
	// job's BO set on draw.
	BOs []*bo.BO
}

// dynamicState is the re-emittable per-draw state, grouped so the
// meta save/restore around internal clear draws is one assignment.
type dynamicState struct {
	Viewport Viewport
	Scissor  Rect

	StencilRef       uint8
	StencilTestMask  uint8
	StencilWriteMask uint8

	BlendConstants [4]float32

	DepthBiasFactor float32
	DepthBiasUnits  float32

	LineWidth float32
}

func defaultDynamicState() dynamicState {
	return dynamicState{
		StencilTestMask:  0xff,
		StencilWriteMask: 0xff,
		LineWidth:        1,
	}
}

// metaState is the recording state saved around internal clear draws.
type metaState struct {
	pass       *RenderPass
	fb         *Framebuffer
	subpassIdx uint32
	renderArea Rect

	pipeline *Pipeline
	dynamic  dynamicState
	push     [maxPushConstants]byte

	tileAligned bool
}

// CommandBuffer records API commands into a list of jobs. Recording
// is single-threaded; distinct command buffers are independent.
type CommandBuffer struct {
	device *Device
	level  Level
	status Status
	usage  UsageFlags

	// oom is the one-way out-of-memory flag. Once set, recording
	// calls stop touching job state and End reports the failure.
	oom bool

	jobs []*Job
	job  *Job

	pass        *RenderPass
	fb          *Framebuffer
	subpassIdx  uint32
	renderArea  Rect
	clearValues []ClearValue
	tileAligned bool

	dirty    dirtyBits
	pipeline *Pipeline
	dynamic  dynamicState
	push     [maxPushConstants]byte

	vertexBufs  [maxVertexBuffers]VertexBinding
	indexBuf    IndexBinding
	descriptors DescriptorState

	queryActive *QueryPool
	queryIndex  uint32

	// pendingQueryEnds are end-of-query actions queued while a job is
	// open; they flush as CPU jobs when the job finishes.
	pendingQueryEnds []CPUOp

	// pendingBarrier forces the next job to serialize against all
	// previously submitted work.
	pendingBarrier bool

	meta []metaState
}

// NewCommandBuffer creates a command buffer on the device.
func NewCommandBuffer(d *Device, level Level) *CommandBuffer {
	return &CommandBuffer{
		device:     d,
		level:      level,
		status:     StatusInitialized,
		subpassIdx: outsidePass,
		dynamic:    defaultDynamicState(),
	}
}

// RenderPassContinueInfo tells a secondary command buffer which
// subpass it will execute in.
type RenderPassContinueInfo struct {
	Pass        *RenderPass
	Framebuffer *Framebuffer // may be nil when not known at record time
	Subpass     uint32
}

// Begin starts recording. A secondary buffer with
// UsageRenderPassContinue inherits the render pass position from info.
func (cb *CommandBuffer) Begin(usage UsageFlags, info *RenderPassContinueInfo) error {
	cb.reset()
	cb.usage = usage
	cb.status = StatusRecording

	if cb.level == LevelSecondary && usage&UsageRenderPassContinue != 0 {
		cb.device.assert(info != nil, "render pass continue without inheritance info")
		cb.pass = info.Pass
		cb.fb = info.Framebuffer
		cb.subpassIdx = info.Subpass
	}
	return nil
}

// Reset returns the command buffer to the initialized state, freeing
// all recorded jobs.
func (cb *CommandBuffer) Reset() {
	cb.reset()
	cb.status = StatusInitialized
}

func (cb *CommandBuffer) reset() {
	if cb.job != nil {
		cb.job.Destroy()
		cb.job = nil
	}
	for _, j := range cb.jobs {
		j.Destroy()
	}
	cb.jobs = nil
	cb.oom = false
	cb.pass = nil
	cb.fb = nil
	cb.subpassIdx = outsidePass
	cb.renderArea = Rect{}
	cb.clearValues = nil
	cb.tileAligned = false
	cb.dirty = dirtyAll
	cb.pipeline = nil
	cb.dynamic = defaultDynamicState()
	cb.push = [maxPushConstants]byte{}
	cb.vertexBufs = [maxVertexBuffers]VertexBinding{}
	cb.indexBuf = IndexBinding{}
	cb.descriptors = DescriptorState{}
	cb.queryActive = nil
	cb.pendingQueryEnds = nil
	cb.pendingBarrier = false
	cb.meta = cb.meta[:0]
}

// End finishes recording. It is the only call that surfaces
// accumulated allocation failures.
func (cb *CommandBuffer) End() error {
	if cb.status != StatusRecording {
		return ErrNotRecording
	}
	if cb.level == LevelSecondary && cb.usage&UsageRenderPassContinue != 0 {
		// The primary owns the pass; just close the branch target.
		cb.finishJob()
	} else {
		cb.device.assert(cb.subpassIdx == outsidePass, "End inside a render pass")
		cb.finishJob()
	}
	if cb.oom {
		cb.status = StatusFailed
		return ErrOutOfHostMemory
	}
	cb.status = StatusExecutable
	return nil
}

// Jobs returns the recorded job list. Valid once End succeeded.
func (cb *CommandBuffer) Jobs() []*Job { return cb.jobs }

// recording reports whether emission may proceed. Every recording
// entry point checks this before touching job state.
func (cb *CommandBuffer) recording() bool {
	return cb.status == StatusRecording && !cb.oom
}

// setOOM abandons the rest of the recording.
func (cb *CommandBuffer) setOOM() {
	if !cb.oom {
		cb.oom = true
		Logger().Warn("v3d: command buffer out of memory, discarding recording")
	}
}

// ---------------------------------------------------------------------------
// Render pass state machine
// ---------------------------------------------------------------------------

// BeginRenderPass enters subpass 0 of pass over fb. clearValues
// supplies one entry per attachment; entries for attachments whose
// load op is not clear are ignored.
func (cb *CommandBuffer) BeginRenderPass(pass *RenderPass, fb *Framebuffer, renderArea Rect, clearValues []ClearValue) {
	// The pass state machine keeps running after an allocation failure
	// so Begin/End pairing stays consistent; only emission stops.
	if cb.status != StatusRecording {
		return
	}
	cb.device.assert(cb.subpassIdx == outsidePass, "BeginRenderPass inside a render pass")
	cb.device.assert(cb.level == LevelPrimary, "BeginRenderPass on a secondary command buffer")

	cb.pass = pass
	cb.fb = fb
	cb.renderArea = renderArea

	cb.clearValues = make([]ClearValue, len(pass.attachments))
	for i := range pass.attachments {
		if i >= len(clearValues) {
			break
		}
		att := &pass.attachments[i]
		if att.LoadOp == LoadOpClear || att.StencilLoadOp == LoadOpClear {
			cb.clearValues[i] = clearValues[i]
		}
	}

	// A render area smaller than the framebuffer must be clipped by
	// the scissor, so make sure it gets re-emitted.
	if renderArea.X > 0 || renderArea.Y > 0 ||
		renderArea.W < fb.Width || renderArea.H < fb.Height {
		cb.dirty |= dirtyScissor
	}

	cb.subpassStart(0)
}

// NextSubpass moves to the next subpass.
func (cb *CommandBuffer) NextSubpass() {
	if cb.status != StatusRecording {
		return
	}
	cb.device.assert(cb.subpassIdx != outsidePass, "NextSubpass outside a render pass")
	cb.subpassFinish()
	cb.subpassStart(cb.subpassIdx + 1)
}

// EndRenderPass leaves the render pass, finishing the open job.
func (cb *CommandBuffer) EndRenderPass() {
	if cb.status != StatusRecording {
		return
	}
	cb.device.assert(cb.subpassIdx != outsidePass, "EndRenderPass outside a render pass")
	cb.subpassFinish()
	cb.finishJob()
	cb.pass = nil
	cb.fb = nil
	cb.subpassIdx = outsidePass
	cb.clearValues = nil
}

func (cb *CommandBuffer) subpassFinish() {
	if cb.job != nil {
		cb.job.IsSubpassFinish = true
	}
}

// subpassStart establishes the job for subpass idx, either merging
// into the previous subpass's job or opening a new one, then decides
// the tile alignment of the render area and falls back to clear draws
// when bulk clearing cannot work.
func (cb *CommandBuffer) subpassStart(idx uint32) {
	if cb.canMergeSubpass(idx) {
		cb.subpassIdx = idx
		cb.job.IsSubpassFinish = false
		Logger().Debug("v3d: merged subpass into open job",
			"subpass", idx, "job", cb.job.Serial)
	} else {
		// The previous subpass's job must be finished while the index
		// still names the subpass it recorded, since RCL emission reads
		// the current subpass state.
		inheritFlush := cb.job != nil && cb.job.AlwaysFlush
		cb.finishJob()
		cb.subpassIdx = idx
		if j := cb.startJob(idx, false); j != nil && inheritFlush {
			j.AlwaysFlush = true
		}
	}
	if cb.job == nil {
		return
	}

	// Tile size can change between subpasses when the attachment set's
	// internal bpp changes, so alignment is per subpass.
	t := cb.subpassTiling(idx)
	cb.tileAligned = t.TileAligned(cb.renderArea.X, cb.renderArea.Y, cb.renderArea.W, cb.renderArea.H)

	if !cb.tileAligned && cb.level == LevelPrimary {
		cb.emitUnalignedClears(idx)
	}
}

// canMergeSubpass applies the merge rule: merging shares one binning
// pass and one RCL, so it is only safe when the tile buffer
// configuration is identical across the boundary.
func (cb *CommandBuffer) canMergeSubpass(idx uint32) bool {
	if idx == 0 || cb.job == nil {
		return false
	}
	if cb.level != LevelPrimary {
		return false
	}
	if cb.job.AlwaysFlush {
		return false
	}
	if !cb.device.opts.MergeSubpassJobs {
		return false
	}

	prev := &cb.pass.subpasses[idx-1]
	cur := &cb.pass.subpasses[idx]

	if prev.dsAttachment.Attachment != cur.dsAttachment.Attachment {
		return false
	}
	if !colorAttachmentsSubset(prev, cur) || !colorAttachmentsSubset(cur, prev) {
		return false
	}
	// Input and resolve attachments are not compared here; see the
	// render pass module notes.
	return true
}

// colorAttachmentsSubset reports whether every used color attachment
// of a is also a color attachment of b.
func colorAttachmentsSubset(a, b *subpass) bool {
	for _, ra := range a.colorAttachments {
		if ra.Attachment == AttachmentUnused {
			continue
		}
		found := false
		for _, rb := range b.colorAttachments {
			if rb.Attachment == ra.Attachment {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// subpassTiling computes the frame tiling for subpass idx over the
// current framebuffer.
func (cb *CommandBuffer) subpassTiling(idx uint32) FrameTiling {
	sp := &cb.pass.subpasses[idx]
	rts := uint32(0)
	msaa := false
	for _, ref := range sp.colorAttachments {
		if ref.Attachment == AttachmentUnused {
			continue
		}
		rts++
		if cb.pass.attachments[ref.Attachment].Samples > 1 {
			msaa = true
		}
	}
	if ds := sp.dsAttachment.Attachment; ds != AttachmentUnused {
		if cb.pass.attachments[ds].Samples > 1 {
			msaa = true
		}
	}
	return ComputeFrameTiling(cb.fb.Width, cb.fb.Height, cb.fb.Layers,
		rts, cb.pass.subpassInternalBPP(int(idx)), msaa)
}

// emitUnalignedClears records clear draws for every attachment whose
// clear would otherwise need the bulk tile buffer clear, which cannot
// handle partially covered tiles.
func (cb *CommandBuffer) emitUnalignedClears(idx uint32) {
	sp := &cb.pass.subpasses[idx]
	var clears []ClearAttachment
	for _, ref := range sp.colorAttachments {
		a := ref.Attachment
		if a == AttachmentUnused {
			continue
		}
		att := &cb.pass.attachments[a]
		if att.LoadOp == LoadOpClear && cb.pass.uses[a].firstUse == idx {
			clears = append(clears, ClearAttachment{
				Aspects: AspectColor,
				Slot:    colorSlotOf(sp, a),
				Value:   cb.clearValues[a],
			})
		}
	}
	if ds := sp.dsAttachment.Attachment; ds != AttachmentUnused && cb.pass.uses[ds].firstUse == idx {
		att := &cb.pass.attachments[ds]
		var aspects AspectFlags
		fi := lookupFormat(att.Format)
		if fi.depth && att.LoadOp == LoadOpClear {
			aspects |= AspectDepth
		}
		if fi.stencil && att.StencilLoadOp == LoadOpClear {
			aspects |= AspectStencil
		}
		if aspects != 0 {
			clears = append(clears, ClearAttachment{
				Aspects: aspects,
				Value:   cb.clearValues[ds],
			})
		}
	}
	if len(clears) == 0 {
		return
	}
	Logger().Debug("v3d: render area not tile aligned, clearing with draws",
		"subpass", idx, "attachments", len(clears))
	cb.clearWithDraws(clears, []ClearRect{{
		Rect:       cb.renderArea,
		BaseLayer:  0,
		LayerCount: cb.fb.Layers,
	}})
}

func colorSlotOf(sp *subpass, attachment uint32) uint32 {
	for i, ref := range sp.colorAttachments {
		if ref.Attachment == attachment {
			return uint32(i)
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Job lifecycle
// ---------------------------------------------------------------------------

// startJob finishes any open job and opens a fresh one for subpass
// idx. Continuing marks a mid-subpass resume after a forced split.
func (cb *CommandBuffer) startJob(idx uint32, continuing bool) *Job {
	inheritFlush := false
	if cb.job != nil {
		inheritFlush = cb.job.AlwaysFlush
		cb.finishJob()
	}
	if cb.oom {
		return nil
	}

	typ := JobTypeCL
	if cb.level == LevelSecondary && cb.usage&UsageRenderPassContinue != 0 {
		typ = JobTypeCLSecondary
	}
	j := newJob(cb.device, typ)
	j.FirstSubpass = idx
	j.IsSubpassContinue = continuing
	j.AlwaysFlush = inheritFlush || cb.device.opts.SerializeDraws
	j.SerializeWithPrior = cb.pendingBarrier
	cb.pendingBarrier = false
	cb.job = j

	// Every piece of per-draw state must be re-emitted into the new
	// job's lists.
	cb.dirty = dirtyAll

	if typ == JobTypeCL && cb.subpassIdx != outsidePass {
		if err := j.startFrame(cb.subpassTiling(idx)); err != nil {
			cb.setOOM()
			j.Destroy()
			cb.job = nil
			return nil
		}
	}
	return cb.job
}

// finishJob closes the open job and appends it to the job list. With
// the out-of-memory flag set the job is discarded instead.
func (cb *CommandBuffer) finishJob() {
	j := cb.job
	if j == nil {
		return
	}
	cb.job = nil

	if cb.oom {
		j.Destroy()
		Logger().Warn("v3d: discarding job recorded before allocation failure",
			"job", j.Serial)
		return
	}

	switch j.Type {
	case JobTypeCL:
		if cb.subpassIdx != outsidePass {
			if !j.rclEmitted {
				cb.emitSubpassRCL(j)
			}
			j.endBCL()
		}
	case JobTypeCLSecondary:
		j.endBCL()
	}
	cb.jobs = append(cb.jobs, j)

	if Logger().Enabled(context.Background(), slog.LevelDebug) &&
		(j.Type == JobTypeCL || j.Type == JobTypeCLSecondary) {
		Logger().Debug("v3d: finished job",
			"job", j.Serial,
			"draws", j.DrawCount,
			"bcl", j.BCL.Dump(),
			"rcl", j.RCL.Dump())
	}

	// End-of-query processing runs after the GPU work that feeds the
	// counters, unless a render pass continuation still defers it.
	if cb.subpassIdx == outsidePass || cb.level == LevelPrimary {
		cb.flushQueryEnds()
	}
}

// splitJob ends the open job mid-subpass and resumes the same subpass
// in a fresh one. The subpass-finish flag stays clear so store logic
// knows the attachment uses continue.
func (cb *CommandBuffer) splitJob() *Job {
	return cb.startJob(cb.subpassIdx, true)
}

func (cb *CommandBuffer) flushQueryEnds() {
	for i := range cb.pendingQueryEnds {
		j := newJob(cb.device, JobTypeCPU)
		j.CPU = cb.pendingQueryEnds[i]
		cb.jobs = append(cb.jobs, j)
	}
	cb.pendingQueryEnds = nil
}

// ---------------------------------------------------------------------------
// State binding
// ---------------------------------------------------------------------------

// BindPipeline binds a graphics pipeline.
func (cb *CommandBuffer) BindPipeline(p *Pipeline) {
	if !cb.recording() || cb.pipeline == p {
		return
	}
	cb.pipeline = p
	cb.dirty |= dirtyPipeline | dirtyStencil | dirtyBlendConstants
}

// BindVertexBuffer binds one vertex buffer slot.
func (cb *CommandBuffer) BindVertexBuffer(slot uint32, b *bo.BO, offset uint32) {
	if !cb.recording() {
		return
	}
	cb.device.assert(slot < maxVertexBuffers, "vertex buffer slot out of range")
	cb.vertexBufs[slot] = VertexBinding{BO: b, Offset: offset}
	cb.dirty |= dirtyVertexBuffers
}

// BindIndexBuffer binds the index buffer.
func (cb *CommandBuffer) BindIndexBuffer(b *bo.BO, offset uint32, typ cl.IndexType) {
	if !cb.recording() {
		return
	}
	cb.indexBuf = IndexBinding{BO: b, Offset: offset, Type: typ}
	cb.dirty |= dirtyIndexBuffer
}

// BindDescriptorState replaces the bound descriptor summary.
func (cb *CommandBuffer) BindDescriptorState(ds DescriptorState) {
	if !cb.recording() {
		return
	}
	cb.descriptors = ds
	cb.dirty |= dirtyDescriptors
}

// PushConstants updates a byte range of the push constant buffer.
func (cb *CommandBuffer) PushConstants(offset uint32, data []byte) {
	if !cb.recording() {
		return
	}
	cb.device.assert(int(offset)+len(data) <= maxPushConstants, "push constant range out of bounds")
	copy(cb.push[offset:], data)
	cb.dirty |= dirtyPushConstants
}

// SetViewport sets the viewport transform.
func (cb *CommandBuffer) SetViewport(v Viewport) {
	if !cb.recording() {
		return
	}
	cb.dynamic.Viewport = v
	cb.dirty |= dirtyViewport | dirtyScissor
}

// SetScissor sets the scissor rectangle.
func (cb *CommandBuffer) SetScissor(r Rect) {
	if !cb.recording() {
		return
	}
	cb.dynamic.Scissor = r
	cb.dirty |= dirtyScissor
}

// SetStencilReference sets the stencil reference value for both faces.
func (cb *CommandBuffer) SetStencilReference(ref uint8) {
	if !cb.recording() {
		return
	}
	cb.dynamic.StencilRef = ref
	cb.dirty |= dirtyStencil
}

// SetStencilCompareMask sets the stencil test mask for both faces.
func (cb *CommandBuffer) SetStencilCompareMask(mask uint8) {
	if !cb.recording() {
		return
	}
	cb.dynamic.StencilTestMask = mask
	cb.dirty |= dirtyStencil
}

// SetStencilWriteMask sets the stencil write mask for both faces.
func (cb *CommandBuffer) SetStencilWriteMask(mask uint8) {
	if !cb.recording() {
		return
	}
	cb.dynamic.StencilWriteMask = mask
	cb.dirty |= dirtyStencil
}

// SetBlendConstants sets the blend constant color.
func (cb *CommandBuffer) SetBlendConstants(c [4]float32) {
	if !cb.recording() {
		return
	}
	cb.dynamic.BlendConstants = c
	cb.dirty |= dirtyBlendConstants
}

// SetDepthBias sets the polygon depth bias.
func (cb *CommandBuffer) SetDepthBias(factor, units float32) {
	if !cb.recording() {
		return
	}
	cb.dynamic.DepthBiasFactor = factor
	cb.dynamic.DepthBiasUnits = units
	cb.dirty |= dirtyDepthBias
}

// SetLineWidth sets the rasterized line width.
func (cb *CommandBuffer) SetLineWidth(w float32) {
	if !cb.recording() {
		return
	}
	cb.dynamic.LineWidth = w
	cb.dirty |= dirtyLineWidth
}

// ---------------------------------------------------------------------------
// Queries, events, barriers, copies
// ---------------------------------------------------------------------------

// BeginQuery starts occlusion query accumulation.
func (cb *CommandBuffer) BeginQuery(pool *QueryPool, query uint32) {
	if !cb.recording() {
		return
	}
	cb.queryActive = pool
	cb.queryIndex = query
	cb.dirty |= dirtyOcclusionQuery
}

// EndQuery stops accumulation and queues the end-of-query processing
// to run after the jobs feeding the counter.
func (cb *CommandBuffer) EndQuery(pool *QueryPool, query uint32) {
	if !cb.recording() {
		return
	}
	cb.device.assert(cb.queryActive == pool && cb.queryIndex == query, "EndQuery without matching BeginQuery")
	cb.queryActive = nil
	cb.dirty |= dirtyOcclusionQuery
	cb.pendingQueryEnds = append(cb.pendingQueryEnds, CPUOp{
		Kind:  CPUOpEndQuery,
		Pool:  pool,
		Query: query,
	})
	if cb.job == nil {
		cb.flushQueryEnds()
	}
}

// PipelineBarrier finishes the open job and serializes the next one
// against all previously submitted work.
func (cb *CommandBuffer) PipelineBarrier() {
	if !cb.recording() {
		return
	}
	cb.device.assert(cb.subpassIdx == outsidePass, "PipelineBarrier inside a render pass")
	cb.finishJob()
	cb.pendingBarrier = true
}

// SetEvent records a deferred host-visible event signal.
func (cb *CommandBuffer) SetEvent(e *Event) {
	cb.recordCPUJob(CPUOp{Kind: CPUOpSetEvent, Event: e})
}

// ResetEvent records a deferred event reset.
func (cb *CommandBuffer) ResetEvent(e *Event) {
	cb.recordCPUJob(CPUOp{Kind: CPUOpResetEvent, Event: e})
}

// WaitEvents records a wait for the events to become signaled.
func (cb *CommandBuffer) WaitEvents(events []*Event) {
	cb.recordCPUJob(CPUOp{Kind: CPUOpWaitEvents, Events: events})
}

func (cb *CommandBuffer) recordCPUJob(op CPUOp) {
	if !cb.recording() {
		return
	}
	cb.device.assert(cb.subpassIdx == outsidePass, "CPU job recorded inside a render pass")
	cb.finishJob()
	j := newJob(cb.device, JobTypeCPU)
	j.CPU = op
	cb.jobs = append(cb.jobs, j)
}

// CopyBuffer records a direct buffer copy executed by the transfer
// unit.
func (cb *CommandBuffer) CopyBuffer(src *bo.BO, srcOffset uint32, dst *bo.BO, dstOffset, size uint32) {
	if !cb.recording() {
		return
	}
	cb.device.assert(cb.subpassIdx == outsidePass, "CopyBuffer inside a render pass")
	cb.finishJob()
	j := newJob(cb.device, JobTypeCopy)
	j.Copy = CopyOp{Src: src, SrcOffset: srcOffset, Dst: dst, DstOffset: dstOffset, Size: size}
	j.SerializeWithPrior = cb.pendingBarrier
	cb.pendingBarrier = false
	cb.jobs = append(cb.jobs, j)
}

// ---------------------------------------------------------------------------
// Secondary execution
// ---------------------------------------------------------------------------

// ExecuteCommands inlines recorded secondary command buffers.
// Branch-target jobs are entered via BRANCH_TO_SUB_LIST from the
// primary's BCL; complete jobs are cloned into the primary's job list.
func (cb *CommandBuffer) ExecuteCommands(secondaries []*CommandBuffer) {
	if !cb.recording() {
		return
	}
	cb.device.assert(cb.level == LevelPrimary, "ExecuteCommands on a secondary command buffer")

	for _, sec := range secondaries {
		cb.device.assert(sec.status == StatusExecutable, "secondary command buffer not executable")
		for _, j := range sec.jobs {
			if j.Type == JobTypeCLSecondary {
				cb.executeBranchJob(j)
			} else {
				clone := j.cloneJob()
				cb.finishJob()
				cb.jobs = append(cb.jobs, clone)
			}
		}
	}

	// The secondary may have trashed any hardware state; re-emit
	// everything on the next draw.
	cb.dirty = dirtyAll
}

func (cb *CommandBuffer) executeBranchJob(sec *Job) {
	cb.device.assert(cb.subpassIdx != outsidePass, "branch-target job outside a render pass")
	if cb.job == nil {
		cb.startJob(cb.subpassIdx, true)
	}
	j := cb.job
	if j == nil {
		return
	}
	if sec.BCL.Empty() {
		// A secondary recorded without draws has nothing to branch
		// into.
		return
	}

	j.BCL.EnsureSpaceWithBranch(cl.PacketLen(cl.OpBranchToSubList) + 1)
	j.BCL.Emit(cl.BranchToSubList{Addr: cl.Address{BO: sec.BCL.First()}})

	for _, b := range sec.BOs.All() {
		j.BOs.Add(b)
	}
	j.DrawCount += sec.DrawCount
	if sec.ez == EZDisabled {
		j.ez = EZDisabled
	} else if sec.ez != EZUndecided {
		if sec.ez == EZLTLE {
			j.updateEZ(EZDirectionLTLE)
		} else {
			j.updateEZ(EZDirectionGTGE)
		}
	}
}

// ---------------------------------------------------------------------------
// Meta state save/restore
// ---------------------------------------------------------------------------

// pushMetaState saves the recording state an internal draw is about to
// clobber.
func (cb *CommandBuffer) pushMetaState() {
	cb.meta = append(cb.meta, metaState{
		pass:        cb.pass,
		fb:          cb.fb,
		subpassIdx:  cb.subpassIdx,
		renderArea:  cb.renderArea,
		pipeline:    cb.pipeline,
		dynamic:     cb.dynamic,
		push:        cb.push,
		tileAligned: cb.tileAligned,
	})
}

// popMetaState restores the state saved by pushMetaState and marks
// everything dirty so the next user draw re-emits it.
func (cb *CommandBuffer) popMetaState() {
	m := cb.meta[len(cb.meta)-1]
	cb.meta = cb.meta[:len(cb.meta)-1]
	cb.pass = m.pass
	cb.fb = m.fb
	cb.subpassIdx = m.subpassIdx
	cb.renderArea = m.renderArea
	cb.pipeline = m.pipeline
	cb.dynamic = m.dynamic
	cb.push = m.push
	cb.tileAligned = m.tileAligned
	cb.dirty = dirtyAll
}
