package v3d

import (
	"encoding/binary"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/cl"
)

// AspectFlags selects image aspects for attachment clears.
type AspectFlags uint8

const (
	AspectColor AspectFlags = 1 << iota
	AspectDepth
	AspectStencil
)

// ClearAttachment names one attachment of the current subpass to
// clear. Slot is the color attachment slot; it is ignored for
// depth/stencil aspects.
type ClearAttachment struct {
	Aspects AspectFlags
	Slot    uint32
	Value   ClearValue
}

// ClearRect is one region and layer range to clear.
type ClearRect struct {
	Rect       Rect
	BaseLayer  uint32
	LayerCount uint32
}

// ClearAttachments clears regions of the current subpass's
// attachments. A single rect covering the whole framebuffer with an
// unconstrained render area goes through the tile buffer directly;
// anything else falls back to internal clear draws.
func (cb *CommandBuffer) ClearAttachments(attachments []ClearAttachment, rects []ClearRect) {
	if !cb.recording() {
		return
	}
	cb.device.assert(cb.subpassIdx != outsidePass, "ClearAttachments outside a render pass")
	if len(attachments) == 0 || len(rects) == 0 {
		return
	}

	if cb.canClearWithTLB(rects) {
		cb.clearWithTLB(attachments, rects[0])
		return
	}
	cb.clearWithDraws(attachments, rects)
}

// canClearWithTLB reports whether the fast path applies: one rect
// exactly covering the framebuffer, with the render area not clipping
// it.
func (cb *CommandBuffer) canClearWithTLB(rects []ClearRect) bool {
	if len(rects) != 1 {
		return false
	}
	r := rects[0].Rect
	if r.X != 0 || r.Y != 0 || r.W != cb.fb.Width || r.H != cb.fb.Height {
		return false
	}
	a := cb.renderArea
	return a.X == 0 && a.Y == 0 && a.W == cb.fb.Width && a.H == cb.fb.Height
}

// clearWithTLB splits off a dedicated job whose RCL does nothing but
// clear and store the requested attachments. No geometry is drawn.
func (cb *CommandBuffer) clearWithTLB(attachments []ClearAttachment, rect ClearRect) {
	j := cb.startJob(cb.subpassIdx, true)
	if j == nil {
		return
	}
	Logger().Debug("v3d: attachment clear through tile buffer", "job", j.Serial)
	cb.emitTLBClearRCL(j, attachments, rect)
	j.rclEmitted = true
	cb.finishJob()
}

// emitTLBClearRCL builds the complete clear RCL for the dedicated
// clear job.
func (cb *CommandBuffer) emitTLBClearRCL(j *Job, attachments []ClearAttachment, rect ClearRect) {
	t := &j.Tiling
	sp := &cb.pass.subpasses[cb.subpassIdx]
	rcl := &j.RCL
	rcl.Begin()
	rcl.EnsureSpaceWithBranch(256)

	var dsValue ClearValue
	clearDS := false
	for _, a := range attachments {
		if a.Aspects&(AspectDepth|AspectStencil) != 0 {
			clearDS = true
			dsValue = a.Value
		}
	}

	rcl.Emit(cl.TileRenderingModeCfgCommon{
		WidthPixels:   uint16(t.Width),
		HeightPixels:  uint16(t.Height),
		RenderTargets: uint8(t.RenderTargets),
		MaxBPP:        t.InternalBPP,
		Multisample:   t.MSAA,
		EarlyZDisable: true,
	})

	var colorCfg cl.TileRenderingModeCfgColor
	for slot, ref := range sp.colorAttachments {
		if slot >= 4 || ref.Attachment == AttachmentUnused {
			continue
		}
		v := cb.fb.Attachments[ref.Attachment]
		colorCfg.RT[slot] = cl.RenderTargetCfg{
			InternalBPP:  v.InternalBPP,
			InternalType: v.InternalType,
		}
	}
	rcl.Emit(colorCfg)

	rcl.Emit(cl.TileRenderingModeCfgZSClearValues{
		Z:       dsValue.Depth,
		Stencil: dsValue.Stencil,
	})

	for _, a := range attachments {
		if a.Aspects&AspectColor == 0 {
			continue
		}
		ref := sp.colorAttachments[a.Slot]
		if ref.Attachment == AttachmentUnused {
			continue
		}
		// Route the requested clear value through the per-attachment
		// accumulator the color packing reads.
		cb.clearValues[ref.Attachment].Color = a.Value.Color
		cb.emitClearColors(rcl, uint8(a.Slot), ref.Attachment)
	}

	rcl.Emit(cl.TileListInitialBlockSize{Size: cl.TileAllocBlock64, AutoChain: true})
	emitSupertileCfg(rcl, t)

	lastLayer := rect.BaseLayer + rect.LayerCount
	for layer := rect.BaseLayer; layer < lastLayer; layer++ {
		cb.emitTLBClearLayer(j, attachments, layer, clearDS)
	}

	rcl.EnsureSpaceWithBranch(cl.PacketLen(cl.OpEndOfRendering) + 1)
	rcl.Emit(cl.EndOfRendering{})
}

func (cb *CommandBuffer) emitTLBClearLayer(j *Job, attachments []ClearAttachment, layer uint32, clearDS bool) {
	sp := &cb.pass.subpasses[cb.subpassIdx]
	t := &j.Tiling
	rcl := &j.RCL
	ind := &j.Indirect

	layerStride := tileAllocBytesPerTile * t.DrawTilesX * t.DrawTilesY
	rcl.EnsureSpaceWithBranch(64)
	rcl.Emit(cl.MulticoreRenderingTileListSetBase{
		Addr: cl.Address{BO: j.TileAlloc, Offset: layer * layerStride},
	})

	start := ind.EnsureSpace(256, 1)
	ind.Emit(cl.TileCoordinatesImplicit{})
	ind.Emit(cl.EndOfLoads{})
	ind.Emit(cl.PrimListFormat{Mode: cl.PrimTriangles})
	ind.Emit(cl.BranchToImplicitTileList{})

	hasStores := false
	for _, a := range attachments {
		if a.Aspects&AspectColor == 0 {
			continue
		}
		ref := sp.colorAttachments[a.Slot]
		if ref.Attachment == AttachmentUnused {
			continue
		}
		cb.emitTileBufferStore(ind, cl.TileBufferRT0+cl.TileBuffer(a.Slot), ref.Attachment, layer, !clearDS)
		hasStores = true
	}
	if !hasStores {
		// GFXH-1742: the store unit misbehaves on an empty store
		// sequence unless the dummy store is issued twice.
		for i := 0; i < 2; i++ {
			ind.Emit(cl.StoreTileBufferGeneral{Buffer: cl.TileBufferNone})
		}
	}
	if clearDS {
		ind.Emit(cl.ClearTileBuffers{
			ClearZStencil:         true,
			ClearAllRenderTargets: true,
		})
	}
	ind.Emit(cl.EndOfTileMarker{})
	ind.Emit(cl.ReturnFromSubList{})

	rcl.Emit(cl.StartAddrOfGenericTileList{Start: start, End: ind.Addr()})
	cb.emitSupertileCoordinates(j)
}

// ---------------------------------------------------------------------------
// Fallback path: clear by drawing
// ---------------------------------------------------------------------------

// clearWithDraws clears attachment regions with internal draws: per
// attachment and rect, the recording state is parked, a throwaway
// single-attachment pass over the real attachment layer runs a
// full-quad draw with a push-constant clear color, and the state is
// restored.
func (cb *CommandBuffer) clearWithDraws(attachments []ClearAttachment, rects []ClearRect) {
	sp := &cb.pass.subpasses[cb.subpassIdx]
	for _, a := range attachments {
		var target uint32
		if a.Aspects&AspectColor != 0 {
			ref := sp.colorAttachments[a.Slot]
			if ref.Attachment == AttachmentUnused {
				continue
			}
			target = ref.Attachment
		} else {
			target = sp.dsAttachment.Attachment
			if target == AttachmentUnused {
				continue
			}
		}
		for _, r := range rects {
			cb.clearRectWithDraw(a, target, r)
		}
	}
}

func (cb *CommandBuffer) clearRectWithDraw(a ClearAttachment, attachment uint32, r ClearRect) {
	view := cb.fb.Attachments[attachment]

	// Depth/stencil clears reuse the color path by viewing the image
	// through a same-width color format and packing the Z/S value
	// into the clear color.
	format := view.Format
	var push [16]byte
	if a.Aspects&AspectColor != 0 {
		c := hwClearColor(a.Value.Color, view.InternalType, view.InternalBPP)
		for i, w := range c {
			binary.LittleEndian.PutUint32(push[i*4:], w)
		}
	} else {
		format = colorFormatForDepthStencil(view.Format)
		binary.LittleEndian.PutUint32(push[0:],
			packDepthStencil(view.Format, a.Value.Depth, a.Value.Stencil))
	}

	samples := cb.pass.attachments[attachment].Samples
	pipeline, err := cb.device.clearPipeline(format, samples)
	if err != nil {
		cb.setOOM()
		return
	}

	clearView := NewImageView(view.Image, format, view.BaseLevel,
		view.FirstLayer+r.BaseLayer, view.FirstLayer+r.BaseLayer+r.LayerCount-1)
	clearFB := NewFramebuffer(cb.fb.Width, cb.fb.Height, r.LayerCount, []*ImageView{clearView})
	clearPass := NewRenderPass(
		[]AttachmentDescription{{
			Format:  format,
			Samples: samples,
			LoadOp:  LoadOpLoad,
			StoreOp: StoreOpStore,
		}},
		[]SubpassDescription{{
			ColorAttachments:       []AttachmentReference{{Attachment: 0}},
			DepthStencilAttachment: AttachmentReference{Attachment: AttachmentUnused},
		}},
	)

	cb.pushMetaState()
	cb.finishJob()

	cb.beginRenderPassInternal(clearPass, clearFB, r.Rect, nil)
	cb.BindPipeline(pipeline)
	cb.PushConstants(0, push[:])
	cb.SetViewport(Viewport{
		X: float32(r.Rect.X), Y: float32(r.Rect.Y),
		W: float32(r.Rect.W), H: float32(r.Rect.H),
		MaxDepth: 1,
	})
	cb.SetScissor(r.Rect)
	cb.Draw(4, 1, 0, 0)
	cb.EndRenderPass()

	cb.popMetaState()
}

// beginRenderPassInternal is BeginRenderPass without the level and
// nesting preconditions, for internal meta passes.
func (cb *CommandBuffer) beginRenderPassInternal(pass *RenderPass, fb *Framebuffer, renderArea Rect, clearValues []ClearValue) {
	cb.pass = pass
	cb.fb = fb
	cb.renderArea = renderArea
	cb.clearValues = make([]ClearValue, len(pass.attachments))
	copy(cb.clearValues, clearValues)
	cb.subpassStart(0)
}

// clearPipeline returns the cached built-in clear pipeline for a
// format and sample count, building it at most once per key.
func (d *Device) clearPipeline(format gputypes.TextureFormat, samples uint32) (*Pipeline, error) {
	d.clearMu.Lock()
	defer d.clearMu.Unlock()

	key := clearPipelineKey{format: format, samples: samples}
	if p, ok := d.clearPipelines[key]; ok {
		return p, nil
	}
	p, err := d.NewPipeline(PipelineDesc{
		Topology:    gputypes.PrimitiveTopologyTriangleStrip,
		Multisample: gputypes.MultisampleState{Count: samples},
	})
	if err != nil {
		return nil, err
	}
	d.clearPipelines[key] = p
	return p, nil
}
