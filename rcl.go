package v3d

import (
	"github.com/gogpu/v3d/cl"
)

// clearPadThreshold is the padded-vs-implicit UIF block height gap at
// which the store unit needs the explicit clear pad. The constant is a
// hardware revision property; do not re-derive it.
const clearPadThreshold = 15

// attachmentRCLState is the per-attachment decision matrix result for
// one job.
type attachmentRCLState struct {
	needsClear bool
	needsLoad  bool
	needsStore bool
}

// attachmentState evaluates the load/store matrix for an attachment
// used by job j, which covers subpasses j.FirstSubpass through
// cb.subpassIdx.
//
// A clear only happens in the job that begins the attachment's first
// subpass, with a tile-aligned render area and no mid-subpass resume;
// everything else that is not explicitly DontCare-on-first-use turns
// into a load. Stores happen unless this job provably ends the
// attachment's last use with StoreOpDontCare. A store over a render
// area that is not tile aligned also forces a load, since the store
// writes whole tiles and the pixels outside the area must survive it.
func (cb *CommandBuffer) attachmentState(j *Job, attachment uint32, loadOp LoadOp, storeOp StoreOp) attachmentRCLState {
	use := cb.pass.uses[attachment]
	var s attachmentRCLState
	s.needsClear = loadOp == LoadOpClear &&
		use.firstUse == j.FirstSubpass &&
		!j.IsSubpassContinue &&
		cb.tileAligned
	s.needsStore = storeOp == StoreOpStore ||
		use.lastUse > cb.subpassIdx ||
		!j.IsSubpassFinish
	s.needsLoad = loadOp == LoadOpLoad ||
		use.firstUse < j.FirstSubpass ||
		j.IsSubpassContinue ||
		(!cb.tileAligned && s.needsStore)
	return s
}

// emitSubpassRCL builds the rendering control list for a render job.
// Called lazily at job finish; jobs that recorded their own RCL (the
// attachment clear fast path) skip it.
func (cb *CommandBuffer) emitSubpassRCL(j *Job) {
	t := &j.Tiling
	sp := &cb.pass.subpasses[cb.subpassIdx]
	ds := sp.dsAttachment.Attachment

	rcl := &j.RCL
	rcl.Begin()
	rcl.EnsureSpaceWithBranch(256)

	rcl.Emit(cl.TileRenderingModeCfgCommon{
		WidthPixels:   uint16(t.Width),
		HeightPixels:  uint16(t.Height),
		RenderTargets: uint8(t.RenderTargets),
		MaxBPP:        t.InternalBPP,
		Multisample:   t.MSAA,
		DoubleBuffer:  t.DoubleBuffer,
		EarlyZDisable: j.ez == EZDisabled || ds == AttachmentUnused,
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

	if ds != AttachmentUnused {
		cv := cb.clearValues[ds]
		rcl.Emit(cl.TileRenderingModeCfgZSClearValues{
			Z:       cv.Depth,
			Stencil: cv.Stencil,
		})
	} else {
		rcl.Emit(cl.TileRenderingModeCfgZSClearValues{Z: 1})
	}

	for slot, ref := range sp.colorAttachments {
		if ref.Attachment == AttachmentUnused {
			continue
		}
		att := &cb.pass.attachments[ref.Attachment]
		st := cb.attachmentState(j, ref.Attachment, att.LoadOp, att.StoreOp)
		if !st.needsClear {
			continue
		}
		cb.emitClearColors(rcl, uint8(slot), ref.Attachment)
	}

	rcl.Emit(cl.TileListInitialBlockSize{Size: cl.TileAllocBlock64, AutoChain: true})
	emitSupertileCfg(rcl, t)

	for layer := uint32(0); layer < t.Layers; layer++ {
		cb.emitSubpassLayerRCL(j, layer)
	}

	rcl.EnsureSpaceWithBranch(cl.PacketLen(cl.OpEndOfRendering) + 1)
	rcl.Emit(cl.EndOfRendering{})
	j.rclEmitted = true
}

// emitClearColors writes the clear color configuration packets for one
// render target, splitting the value by internal width and applying
// the UIF clear pad when the slice padding is large enough to need it.
func (cb *CommandBuffer) emitClearColors(rcl *cl.List, slot uint8, attachment uint32) {
	v := cb.fb.Attachments[attachment]
	c := hwClearColor(cb.clearValues[attachment].Color, v.InternalType, v.InternalBPP)

	rcl.Emit(cl.TileRenderingModeCfgClearColorsPart1{
		RT:     slot,
		Low32:  c[0],
		Next24: c[1] & 0xffffff,
	})
	if v.InternalBPP >= InternalBPP64 {
		rcl.Emit(cl.TileRenderingModeCfgClearColorsPart2{
			RT:        slot,
			MidLow32:  c[1]>>24 | c[2]<<8,
			MidHigh24: c[2]>>24 | (c[3]&0xffff)<<8,
		})
	}
	clearPad := uifClearPad(v)
	if v.InternalBPP == InternalBPP128 || clearPad != 0 {
		rcl.Emit(cl.TileRenderingModeCfgClearColorsPart3{
			RT:              slot,
			UIFPaddedHeight: uint16(clearPad),
			High16:          uint16(c[3] >> 16),
		})
	}
}

// uifClearPad returns the explicit padded height in UIF blocks the
// store unit must use for the view, or 0 when the implicit padding is
// close enough.
func uifClearPad(v *ImageView) uint32 {
	sl := v.slice()
	if sl.Tiling != TilingUIFNoXOR && sl.Tiling != TilingUIFXOR {
		return 0
	}
	padded := sl.PaddedHeight / uifBlockHeight
	implicit := divRoundUp(sl.Height, uifBlockHeight)
	if padded-implicit >= clearPadThreshold {
		return padded
	}
	return 0
}

func emitSupertileCfg(rcl *cl.List, t *FrameTiling) {
	rcl.Emit(cl.MulticoreRenderingSupertileCfg{
		SupertileWidth:          uint8(t.SupertileWidth),
		SupertileHeight:         uint8(t.SupertileHeight),
		FrameWidthInSupertiles:  uint8(t.FrameWidthInSupertiles),
		FrameHeightInSupertiles: uint8(t.FrameHeightInSupertiles),
		TotalTilesX:             uint16(t.DrawTilesX),
		TotalTilesY:             uint16(t.DrawTilesY),
		BinTileLists:            1,
	})
}

// emitSubpassLayerRCL emits one layer's tile list base, generic tile
// list and supertile coordinate stream.
func (cb *CommandBuffer) emitSubpassLayerRCL(j *Job, layer uint32) {
	t := &j.Tiling
	rcl := &j.RCL

	layerStride := tileAllocBytesPerTile * t.DrawTilesX * t.DrawTilesY
	rcl.EnsureSpaceWithBranch(64)
	rcl.Emit(cl.MulticoreRenderingTileListSetBase{
		Addr: cl.Address{BO: j.TileAlloc, Offset: layer * layerStride},
	})

	start, end := cb.emitSubpassTileList(j, layer)
	rcl.Emit(cl.StartAddrOfGenericTileList{Start: start, End: end})

	cb.emitSupertileCoordinates(j)
}

func (cb *CommandBuffer) emitSupertileCoordinates(j *Job) {
	t := &j.Tiling
	rcl := &j.RCL
	n := t.FrameWidthInSupertiles * t.FrameHeightInSupertiles
	rcl.EnsureSpaceWithBranch(n*(cl.PacketLen(cl.OpSupertileCoordinates)+1) + 1)
	for y := uint32(0); y < t.FrameHeightInSupertiles; y++ {
		for x := uint32(0); x < t.FrameWidthInSupertiles; x++ {
			rcl.Emit(cl.SupertileCoordinates{Column: uint8(x), Row: uint8(y)})
		}
	}
}

// emitSubpassTileList builds the per-tile generic list in the indirect
// CL: loads, the branch into the binned geometry, stores and clears.
// The rendering pass runs it once per tile.
func (cb *CommandBuffer) emitSubpassTileList(j *Job, layer uint32) (start, end cl.Address) {
	sp := &cb.pass.subpasses[cb.subpassIdx]
	ds := sp.dsAttachment.Attachment
	ind := &j.Indirect

	start = ind.EnsureSpace(512, 1)

	ind.Emit(cl.TileCoordinatesImplicit{})

	// Loads.
	for slot, ref := range sp.colorAttachments {
		if ref.Attachment == AttachmentUnused {
			continue
		}
		att := &cb.pass.attachments[ref.Attachment]
		st := cb.attachmentState(j, ref.Attachment, att.LoadOp, att.StoreOp)
		if st.needsLoad {
			cb.emitTileBufferLoad(ind, cl.TileBufferRT0+cl.TileBuffer(slot), ref.Attachment, layer)
		}
	}
	if ds != AttachmentUnused {
		att := &cb.pass.attachments[ds]
		v := cb.fb.Attachments[ds]
		dState := cb.attachmentState(j, ds, att.LoadOp, att.StoreOp)
		sState := cb.attachmentState(j, ds, att.StencilLoadOp, att.StencilStoreOp)
		buf := dsTileBuffer(v, dState.needsLoad, sState.needsLoad)
		if buf != cl.TileBufferNone {
			cb.emitTileBufferLoad(ind, buf, ds, layer)
		}
	}
	ind.Emit(cl.EndOfLoads{})

	if cb.pipeline != nil {
		ind.Emit(cl.PrimListFormat{Mode: primMode(cb.pipeline.Desc.Topology)})
	} else {
		ind.Emit(cl.PrimListFormat{Mode: cl.PrimTriangles})
	}
	ind.Emit(cl.BranchToImplicitTileList{})

	// Stores. Depth/stencil clears cannot use the per-buffer clear
	// flag (GFXH-1461): they force a whole-tile-buffer clear, which
	// also wipes the color targets, so any color clear rides along.
	hasStores := false
	globalZSClear := false
	globalRTClear := false

	if ds != AttachmentUnused {
		att := &cb.pass.attachments[ds]
		v := cb.fb.Attachments[ds]
		dState := cb.attachmentState(j, ds, att.LoadOp, att.StoreOp)
		sState := cb.attachmentState(j, ds, att.StencilLoadOp, att.StencilStoreOp)
		if dState.needsClear || sState.needsClear {
			globalZSClear = true
		}
		buf := dsTileBuffer(v, dState.needsStore, sState.needsStore)
		if buf != cl.TileBufferNone {
			cb.emitTileBufferStore(ind, buf, ds, layer, false)
			hasStores = true
		}
	}
	for slot, ref := range sp.colorAttachments {
		if ref.Attachment == AttachmentUnused {
			continue
		}
		att := &cb.pass.attachments[ref.Attachment]
		st := cb.attachmentState(j, ref.Attachment, att.LoadOp, att.StoreOp)
		switch {
		case st.needsStore:
			clear := st.needsClear && !globalZSClear && !globalRTClear
			cb.emitTileBufferStore(ind, cl.TileBufferRT0+cl.TileBuffer(slot), ref.Attachment, layer, clear)
			hasStores = true
		case st.needsClear:
			// Clearing without storing has no store packet to hang
			// the clear flag on.
			globalRTClear = true
		}
	}
	if !hasStores {
		ind.Emit(cl.StoreTileBufferGeneral{Buffer: cl.TileBufferNone})
	}
	if globalZSClear || globalRTClear {
		ind.Emit(cl.ClearTileBuffers{
			ClearZStencil:         globalZSClear,
			ClearAllRenderTargets: true,
		})
	}

	ind.Emit(cl.EndOfTileMarker{})
	ind.Emit(cl.ReturnFromSubList{})
	return start, ind.Addr()
}

// dsTileBuffer picks the depth/stencil tile buffer covering exactly
// the aspects selected, or TileBufferNone.
func dsTileBuffer(v *ImageView, depth, stencil bool) cl.TileBuffer {
	depth = depth && v.HasDepth
	stencil = stencil && v.HasStencil
	switch {
	case depth && stencil:
		return cl.TileBufferZStencil
	case depth:
		return cl.TileBufferZ
	case stencil:
		return cl.TileBufferStencil
	default:
		return cl.TileBufferNone
	}
}

func (cb *CommandBuffer) emitTileBufferLoad(l *cl.List, buf cl.TileBuffer, attachment, layer uint32) {
	v := cb.fb.Attachments[attachment]
	b, off := v.layerAddress(layer)
	l.Emit(cl.LoadTileBufferGeneral{
		Buffer:             buf,
		Addr:               cl.Address{BO: b, Offset: off},
		InputImageFormat:   v.RTFormat,
		RBSwap:             v.SwapRB,
		MemFormat:          cl.MemoryFormat(v.memoryFormat()),
		Decimate:           cl.DecimateSample0,
		HeightInUBOrStride: tileBufferHeightOrStride(v),
	})
}

func (cb *CommandBuffer) emitTileBufferStore(l *cl.List, buf cl.TileBuffer, attachment, layer uint32, clear bool) {
	v := cb.fb.Attachments[attachment]
	b, off := v.layerAddress(layer)
	l.Emit(cl.StoreTileBufferGeneral{
		Buffer:             buf,
		Addr:               cl.Address{BO: b, Offset: off},
		ClearBufferStored:  clear,
		OutputImageFormat:  v.RTFormat,
		RBSwap:             v.SwapRB,
		MemFormat:          cl.MemoryFormat(v.memoryFormat()),
		Decimate:           cl.DecimateSample0,
		HeightInUBOrStride: tileBufferHeightOrStride(v),
	})
}

// tileBufferHeightOrStride fills the overloaded height/stride field:
// UIF layouts give their padded height in UIF blocks, raster layouts
// their stride.
func tileBufferHeightOrStride(v *ImageView) uint32 {
	sl := v.slice()
	switch sl.Tiling {
	case TilingUIFNoXOR, TilingUIFXOR:
		return sl.PaddedHeight / uifBlockHeight
	case TilingRaster:
		return sl.Stride
	default:
		return 0
	}
}
