package v3d

import (
	"encoding/binary"

	"github.com/gogpu/v3d/cl"
)

// shaderStateRecordSize is the fixed header of the GL shader state
// record: six address words (code and uniforms for fragment, vertex
// and coordinate stages) plus flags and reserved words. Attribute
// records of attributeRecordSize bytes follow.
const (
	shaderStateRecordSize = 32
	attributeRecordSize   = 8
	shaderStateAlign      = 32
)

// Draw records a non-indexed draw.
func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	j := cb.drawPreamble(firstInstance, 0, false)
	if j == nil {
		return
	}
	mode := primMode(cb.pipeline.Desc.Topology)
	if instanceCount > 1 || firstInstance > 0 {
		j.BCL.Emit(cl.VertexArrayInstancedPrims{
			Mode:           mode,
			InstanceLength: vertexCount,
			Instances:      instanceCount,
			FirstVertex:    firstVertex,
		})
	} else {
		j.BCL.Emit(cl.VertexArrayPrims{
			Mode:        mode,
			Length:      vertexCount,
			FirstVertex: firstVertex,
		})
	}
	j.DrawCount++
}

// DrawIndexed records an indexed draw using the bound index buffer.
func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	j := cb.drawPreamble(firstInstance, vertexOffset, true)
	if j == nil {
		return
	}
	mode := primMode(cb.pipeline.Desc.Topology)
	indexSize := uint32(1) << cb.indexBuf.Type
	offset := cb.indexBuf.Offset + firstIndex*indexSize
	if instanceCount > 1 || firstInstance > 0 {
		j.BCL.Emit(cl.IndexedInstancedPrimList{
			Mode:           mode,
			IndexType:      cb.indexBuf.Type,
			InstanceLength: indexCount,
			Instances:      instanceCount,
			IndexOffset:    offset,
		})
	} else {
		j.BCL.Emit(cl.IndexedPrimList{
			Mode:        mode,
			IndexType:   cb.indexBuf.Type,
			Length:      indexCount,
			IndexOffset: offset,
		})
	}
	j.DrawCount++
}

// drawPreamble establishes the job for the draw, re-emits all dirty
// state and reserves BCL space for the draw packet itself. It returns
// nil when emission is suppressed.
func (cb *CommandBuffer) drawPreamble(firstInstance uint32, vertexOffset int32, indexed bool) *Job {
	if !cb.recording() {
		return nil
	}
	cb.device.assert(cb.pipeline != nil, "draw without a bound pipeline")
	cb.device.assert(cb.subpassIdx != outsidePass, "draw outside a render pass")

	if cb.job == nil {
		cb.startJob(cb.subpassIdx, true)
	} else if cb.job.AlwaysFlush && cb.job.DrawCount > 0 {
		// Serialized mode: one draw per hardware job.
		cb.splitJob()
	}
	j := cb.job
	if j == nil {
		return nil
	}

	j.updateEZ(cb.pipeline.ezDirection)

	if cb.dirty&(dirtyPipeline|dirtyDescriptors|dirtyPushConstants|dirtyVertexBuffers) != 0 {
		if err := cb.emitShaderState(j); err != nil {
			cb.setOOM()
			return nil
		}
	}
	// The remaining state packets are small; one reservation covers
	// the worst case including the trailing draw packet.
	j.BCL.EnsureSpaceWithBranch(256)

	if cb.dirty&dirtyPipeline != 0 {
		cb.emitCfgBits(j)
	}
	if cb.dirty&dirtyViewport != 0 {
		cb.emitViewport(j)
	}
	if cb.dirty&dirtyScissor != 0 {
		cb.emitScissor(j)
	}
	if cb.dirty&dirtyStencil != 0 && cb.pipeline.Desc.StencilTestEnable {
		cb.emitStencil(j)
	}
	if cb.dirty&dirtyDepthBias != 0 {
		j.BCL.Emit(cl.DepthOffset{
			Factor: cb.dynamic.DepthBiasFactor,
			Units:  cb.dynamic.DepthBiasUnits,
		})
	}
	if cb.dirty&dirtyBlendConstants != 0 && cb.pipeline.Desc.BlendEnable {
		c := cb.dynamic.BlendConstants
		j.BCL.Emit(cl.BlendConstantColor{
			R: unorm16(c[0]), G: unorm16(c[1]), B: unorm16(c[2]), A: unorm16(c[3]),
		})
	}
	if cb.dirty&dirtyLineWidth != 0 {
		j.BCL.Emit(cl.LineWidth{Width: cb.dynamic.LineWidth})
	}
	if cb.dirty&dirtyOcclusionQuery != 0 {
		cb.emitOcclusionQuery(j)
	}
	if indexed {
		if cb.dirty&dirtyIndexBuffer != 0 && cb.indexBuf.BO != nil {
			j.BCL.Emit(cl.IndexBufferSetup{
				Addr: cl.Address{BO: cb.indexBuf.BO},
				Size: cb.indexBuf.BO.Size,
			})
		}
		if vertexOffset != 0 || firstInstance != 0 {
			j.BCL.Emit(cl.BaseVertexBaseInstance{
				BaseVertex:   uint32(vertexOffset),
				BaseInstance: firstInstance,
			})
		}
	}
	cb.dirty = 0
	return j
}

// emitShaderState compiles the variants for the bound pipeline and
// descriptor state, builds the uniform streams and the shader state
// record in the indirect list, and points the BCL at the record.
func (cb *CommandBuffer) emitShaderState(j *Job) error {
	p := cb.pipeline

	var variants [3]*Variant
	for i, stage := range []ShaderStage{StageFragment, StageVertex, StageVertexBin} {
		v, err := cb.device.compileVariant(VariantKey{
			Pipeline:     p.ID,
			Stage:        stage,
			TexStateHash: cb.descriptors.TexStateHash,
		})
		if err != nil {
			return err
		}
		variants[i] = v
	}

	var uniformAddrs [3]cl.Address
	for i, v := range variants {
		uniformAddrs[i] = cb.emitUniformStream(j, v.Uniforms)
	}

	codeAddrs := [3]cl.Address{
		{BO: p.Assembly, Offset: p.FragmentOffset},
		{BO: p.Assembly, Offset: p.VertexOffset},
		{BO: p.Assembly, Offset: p.CoordOffset},
	}
	j.BOs.Add(p.Assembly)
	for _, b := range cb.descriptors.BOs {
		j.BOs.Add(b)
	}

	numAttrs := uint8(0)
	if cb.vertexBufs[0].BO != nil {
		numAttrs = 1
	}

	size := uint32(shaderStateRecordSize) + uint32(numAttrs)*attributeRecordSize
	buf := make([]byte, size)
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[i*8:], codeAddrs[i].Absolute())
		binary.LittleEndian.PutUint32(buf[i*8+4:], uniformAddrs[i].Absolute())
	}
	// buf[24:32] flags and reserved, zero.
	if numAttrs > 0 {
		vb := cb.vertexBufs[0]
		binary.LittleEndian.PutUint32(buf[32:], vb.BO.Offset+vb.Offset)
		binary.LittleEndian.PutUint32(buf[36:], p.Desc.VertexStride)
		j.BOs.Add(vb.BO)
	}
	rec := j.Indirect.WriteData(buf, shaderStateAlign)

	j.BCL.EnsureSpaceWithBranch(cl.PacketLen(cl.OpGLShaderState) + 1)
	j.BCL.Emit(cl.GLShaderState{Addr: rec, NumAttrs: numAttrs})
	return nil
}

// emitUniformStream materializes one stage's uniform words in the
// indirect list and returns their address.
func (cb *CommandBuffer) emitUniformStream(j *Job, slots []UniformSlot) cl.Address {
	n := uint32(len(slots))
	if n == 0 {
		n = 1 // the hardware always fetches at least one word
	}
	buf := make([]byte, n*4)
	vp := &cb.dynamic.Viewport
	for i, s := range slots {
		var w uint32
		switch s.Kind {
		case UniformConstant:
			w = s.Data
		case UniformPushConstant:
			w = binary.LittleEndian.Uint32(cb.push[s.Data:])
		case UniformViewportXScale:
			w = f32bits(vp.W / 2 * 256)
		case UniformViewportYScale:
			w = f32bits(vp.H / 2 * 256)
		case UniformViewportZScale:
			w = f32bits(vp.MaxDepth - vp.MinDepth)
		case UniformViewportZOffset:
			w = f32bits(vp.MinDepth)
		}
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return j.Indirect.WriteData(buf, 4)
}

// emitCfgBits emits the fixed-function configuration, folding in the
// job's current early-Z decision.
func (cb *CommandBuffer) emitCfgBits(j *Job) {
	d := &cb.pipeline.Desc

	ez := j.ezEnabled() && d.DepthTestEnable
	cfg := cl.CfgBits{
		EnableForwardFacing: true,
		EnableReverseFacing: true,
		EnableDepthOffset:   cb.dynamic.DepthBiasFactor != 0 || cb.dynamic.DepthBiasUnits != 0,
		ZUpdatesEnable:      d.DepthTestEnable && d.DepthWriteEnable,
		DepthFunc:           cl.CompareAlways,
		EarlyZEnable:        ez,
		EarlyZUpdatesEnable: ez && d.DepthWriteEnable,
		StencilEnable:       d.StencilTestEnable,
		BlendEnable:         d.BlendEnable,
	}
	if d.DepthTestEnable {
		cfg.DepthFunc = depthCompareFunc(d.DepthCompare)
	}
	if d.Multisample.Count > 1 {
		cfg.RasterizerOversample = 1
	}
	j.BCL.Emit(cfg)
}

func (cb *CommandBuffer) emitViewport(j *Job) {
	vp := &cb.dynamic.Viewport
	j.BCL.Emit(cl.ClipperXYScaling{
		HalfWidth:  vp.W / 2 * 256,
		HalfHeight: vp.H / 2 * 256,
	})
	j.BCL.Emit(cl.ClipperZScaleAndOffset{
		Scale:  vp.MaxDepth - vp.MinDepth,
		Offset: vp.MinDepth,
	})
	// Viewport center in 1/256 pixel units.
	j.BCL.Emit(cl.ViewportOffset{
		X: int32((vp.X + vp.W/2) * 256),
		Y: int32((vp.Y + vp.H/2) * 256),
	})
}

// emitScissor clips the scissor to the render area: geometry must
// never touch tiles outside the area the loads and stores cover.
func (cb *CommandBuffer) emitScissor(j *Job) {
	r := intersectRect(cb.dynamic.Scissor, cb.renderArea)
	if cb.dynamic.Scissor.W == 0 || cb.dynamic.Scissor.H == 0 {
		r = cb.renderArea
	}
	j.BCL.Emit(cl.ClipWindow{
		Left:   uint16(r.X),
		Bottom: uint16(r.Y),
		Width:  uint16(r.W),
		Height: uint16(r.H),
	})
}

func (cb *CommandBuffer) emitStencil(j *Job) {
	d := &cb.pipeline.Desc
	front := stencilCfg(d.StencilFront, &cb.dynamic)
	if d.StencilBack == d.StencilFront {
		front.FrontConfig = true
		front.BackConfig = true
		j.BCL.Emit(front)
		return
	}
	front.FrontConfig = true
	j.BCL.Emit(front)
	back := stencilCfg(d.StencilBack, &cb.dynamic)
	back.BackConfig = true
	j.BCL.Emit(back)
}

func stencilCfg(s StencilOpState, dyn *dynamicState) cl.StencilCfg {
	return cl.StencilCfg{
		Ref:         dyn.StencilRef,
		TestMask:    dyn.StencilTestMask,
		WriteMask:   dyn.StencilWriteMask,
		TestFunc:    depthCompareFunc(s.Compare),
		StencilFail: s.FailOp,
		DepthFail:   s.DepthFailOp,
		DepthPass:   s.PassOp,
	}
}

func (cb *CommandBuffer) emitOcclusionQuery(j *Job) {
	var addr cl.Address
	if cb.queryActive != nil {
		addr = cl.Address{BO: cb.queryActive.Results, Offset: cb.queryIndex * 4}
	}
	j.BCL.Emit(cl.OcclusionQueryCounter{Addr: addr})
}

func intersectRect(a, b Rect) Rect {
	x0 := maxU32(a.X, b.X)
	y0 := maxU32(a.Y, b.Y)
	x1 := minU32(a.X+a.W, b.X+b.W)
	y1 := minU32(a.Y+a.H, b.Y+b.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func unorm16(f float32) uint16 {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return uint16(f*0xffff + 0.5)
}
