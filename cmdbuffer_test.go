package v3d

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/bo"
	"github.com/gogpu/v3d/cl"
)

// stubCompiler hands out a tiny fixed variant for every key.
type stubCompiler struct {
	calls int
}

func (c *stubCompiler) CompileVariant(key VariantKey) (*Variant, error) {
	c.calls++
	return &Variant{
		Code: []byte{0x10, 0x20, 0x30, 0x40},
		Uniforms: []UniformSlot{
			{Kind: UniformViewportXScale},
			{Kind: UniformViewportYScale},
			{Kind: UniformPushConstant, Data: 0},
		},
	}, nil
}

func newTestDevice(t *testing.T) (*Device, *bo.HostAllocator) {
	t.Helper()
	alloc := bo.NewHostAllocator()
	d := NewDevice(alloc, &stubCompiler{}, DeviceOptions{
		HWVersion:        42,
		MergeSubpassJobs: true,
		DebugAsserts:     true,
	})
	return d, alloc
}

func newTestImage(t *testing.T, alloc *bo.HostAllocator, format gputypes.TextureFormat, w, h, layers uint32) *Image {
	t.Helper()
	fi := lookupFormat(format)
	stride := w * fi.cpp
	b, err := alloc.Alloc(stride * h * layers)
	if err != nil {
		t.Fatalf("image alloc: %v", err)
	}
	return &Image{
		Format:  format,
		Extent:  gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: layers},
		Levels:  1,
		Samples: 1,
		BO:      b,
		Slices: []Slice{{
			Stride:       stride,
			Width:        w,
			Height:       h,
			PaddedHeight: h,
			Tiling:       TilingRaster,
		}},
		CubeMapStride: stride * h,
	}
}

func newTestFramebuffer(t *testing.T, alloc *bo.HostAllocator, formats []gputypes.TextureFormat, w, h uint32) *Framebuffer {
	t.Helper()
	views := make([]*ImageView, len(formats))
	for i, f := range formats {
		img := newTestImage(t, alloc, f, w, h, 1)
		views[i] = NewImageView(img, f, 0, 0, 0)
	}
	return NewFramebuffer(w, h, 1, views)
}

func singleColorPass(load LoadOp, store StoreOp) *RenderPass {
	return NewRenderPass(
		[]AttachmentDescription{{
			Format:  gputypes.TextureFormatRGBA8Unorm,
			Samples: 1,
			LoadOp:  load,
			StoreOp: store,
		}},
		[]SubpassDescription{{
			ColorAttachments:       []AttachmentReference{{Attachment: 0}},
			DepthStencilAttachment: AttachmentReference{Attachment: AttachmentUnused},
		}},
	)
}

func testPipeline(t *testing.T, d *Device) *Pipeline {
	t.Helper()
	p, err := d.NewPipeline(PipelineDesc{
		Topology: gputypes.PrimitiveTopologyTriangleList,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

// findPackets filters a decoded list by opcode.
func findPackets(t *testing.T, l *cl.List, op cl.Opcode) []cl.Decoded {
	t.Helper()
	pkts, err := l.Packets()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var out []cl.Decoded
	for _, p := range pkts {
		if p.Op == op {
			out = append(out, p)
		}
	}
	return out
}

func totalDraws(cb *CommandBuffer) uint32 {
	n := uint32(0)
	for _, j := range cb.Jobs() {
		n += j.DrawCount
	}
	return n
}

func TestSingleSubpassClearAndDraw(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 128, 128)
	pass := singleColorPass(LoadOpClear, StoreOpStore)
	p := testPipeline(t, d)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 128, H: 128}, []ClearValue{
		{Color: gputypes.Color{R: 1, A: 1}},
	})
	cb.BindPipeline(p)
	cb.SetViewport(Viewport{W: 128, H: 128, MaxDepth: 1})
	cb.Draw(3, 1, 0, 0)
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if len(cb.Jobs()) != 1 {
		t.Fatalf("recorded %d jobs, want 1", len(cb.Jobs()))
	}
	j := cb.Jobs()[0]
	if j.DrawCount != 1 {
		t.Errorf("DrawCount = %d, want 1", j.DrawCount)
	}

	// Tile-aligned full-area clear goes through the store packet's
	// clear flag; no fallback clear draw happens.
	stores := findPackets(t, &j.Indirect, cl.OpStoreTileBufferGeneral)
	if len(stores) != 1 {
		t.Fatalf("found %d stores in the tile list, want 1", len(stores))
	}
	if stores[0].Payload[1]&1 == 0 {
		t.Error("store packet does not carry the clear flag")
	}
	if got := findPackets(t, &j.Indirect, cl.OpLoadTileBufferGeneral); len(got) != 0 {
		t.Errorf("clear path emitted %d loads", len(got))
	}
	if n := len(findPackets(t, &j.RCL, cl.OpEndOfRendering)); n != 1 {
		t.Errorf("RCL has %d END_OF_RENDERING packets, want 1", n)
	}
}

func TestUnalignedRenderAreaClearsWithDraws(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 128, 128)
	pass := singleColorPass(LoadOpClear, StoreOpStore)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	// 33x33 does not cover whole 64x64 tiles.
	cb.BeginRenderPass(pass, fb, Rect{W: 33, H: 33}, []ClearValue{
		{Color: gputypes.Color{B: 1, A: 1}},
	})
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if got := totalDraws(cb); got != 1 {
		t.Fatalf("recorded %d clear draws, want 1", got)
	}
	// None of the jobs may use the bulk clear flag.
	for _, j := range cb.Jobs() {
		if j.Type != JobTypeCL {
			continue
		}
		for _, s := range findPackets(t, &j.Indirect, cl.OpStoreTileBufferGeneral) {
			if s.Payload[1]&1 != 0 {
				t.Error("unaligned render area still used the store clear flag")
			}
		}
	}
}

func TestSubpassMergeSharedAttachments(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 64, 64)
	pass := NewRenderPass(
		[]AttachmentDescription{{
			Format: gputypes.TextureFormatRGBA8Unorm, Samples: 1,
			LoadOp: LoadOpClear, StoreOp: StoreOpStore,
		}},
		[]SubpassDescription{
			{
				ColorAttachments:       []AttachmentReference{{Attachment: 0}},
				DepthStencilAttachment: AttachmentReference{Attachment: AttachmentUnused},
			},
			{
				ColorAttachments:       []AttachmentReference{{Attachment: 0}},
				DepthStencilAttachment: AttachmentReference{Attachment: AttachmentUnused},
			},
		},
	)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, []ClearValue{{}})
	cb.NextSubpass()
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(cb.Jobs()) != 1 {
		t.Fatalf("compatible subpasses produced %d jobs, want 1 merged job", len(cb.Jobs()))
	}
}

func TestSubpassSplitDisjointAttachments(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{
		gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8Unorm,
	}, 64, 64)
	pass := NewRenderPass(
		[]AttachmentDescription{
			{Format: gputypes.TextureFormatRGBA8Unorm, Samples: 1, LoadOp: LoadOpDontCare, StoreOp: StoreOpStore},
			{Format: gputypes.TextureFormatRGBA8Unorm, Samples: 1, LoadOp: LoadOpDontCare, StoreOp: StoreOpStore},
		},
		[]SubpassDescription{
			{
				ColorAttachments:       []AttachmentReference{{Attachment: 0}},
				DepthStencilAttachment: AttachmentReference{Attachment: AttachmentUnused},
			},
			{
				ColorAttachments:       []AttachmentReference{{Attachment: 1}},
				DepthStencilAttachment: AttachmentReference{Attachment: AttachmentUnused},
			},
		},
	)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, nil)
	cb.NextSubpass()
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(cb.Jobs()) != 2 {
		t.Fatalf("disjoint subpasses produced %d jobs, want 2", len(cb.Jobs()))
	}
	for i, j := range cb.Jobs() {
		if n := len(findPackets(t, &j.RCL, cl.OpEndOfRendering)); n != 1 {
			t.Errorf("job %d RCL has %d END_OF_RENDERING packets, want 1", i, n)
		}
	}
}

func TestMergeDisabledByOption(t *testing.T) {
	alloc := bo.NewHostAllocator()
	d := NewDevice(alloc, &stubCompiler{}, DeviceOptions{HWVersion: 42, MergeSubpassJobs: false})
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 64, 64)
	pass := NewRenderPass(
		[]AttachmentDescription{{
			Format: gputypes.TextureFormatRGBA8Unorm, Samples: 1,
			LoadOp: LoadOpDontCare, StoreOp: StoreOpStore,
		}},
		[]SubpassDescription{
			{
				ColorAttachments:       []AttachmentReference{{Attachment: 0}},
				DepthStencilAttachment: AttachmentReference{Attachment: AttachmentUnused},
			},
			{
				ColorAttachments:       []AttachmentReference{{Attachment: 0}},
				DepthStencilAttachment: AttachmentReference{Attachment: AttachmentUnused},
			},
		},
	)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, nil)
	cb.NextSubpass()
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(cb.Jobs()) != 2 {
		t.Fatalf("with merging disabled got %d jobs, want 2", len(cb.Jobs()))
	}
}

func TestOutOfMemoryIsStickyAndSurfacesAtEnd(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 64, 64)
	pass := singleColorPass(LoadOpClear, StoreOpStore)
	p := testPipeline(t, d)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)

	// Fail the tile-alloc allocation at frame start.
	alloc.FailNext = 1
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, []ClearValue{{}})

	cb.BindPipeline(p)
	cb.Draw(3, 1, 0, 0) // must be a no-op
	cb.EndRenderPass()

	if cb.job != nil {
		t.Error("job state mutated after allocation failure")
	}
	if err := cb.End(); !errors.Is(err, ErrOutOfHostMemory) {
		t.Fatalf("End = %v, want ErrOutOfHostMemory", err)
	}
	if cb.status != StatusFailed {
		t.Errorf("status = %d, want StatusFailed", cb.status)
	}
	if len(cb.Jobs()) != 0 {
		t.Errorf("failed recording still enqueued %d jobs", len(cb.Jobs()))
	}

	// Reset makes the buffer recordable again.
	cb.Reset()
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, []ClearValue{{}})
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End after Reset: %v", err)
	}
	if len(cb.Jobs()) != 1 {
		t.Errorf("recording after Reset produced %d jobs, want 1", len(cb.Jobs()))
	}
}

func TestSecondaryExecuteBranchesIntoPrimary(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 64, 64)
	pass := singleColorPass(LoadOpDontCare, StoreOpStore)
	p := testPipeline(t, d)

	sec := NewCommandBuffer(d, LevelSecondary)
	sec.Begin(UsageRenderPassContinue, &RenderPassContinueInfo{
		Pass: pass, Framebuffer: fb, Subpass: 0,
	})
	sec.BindPipeline(p)
	sec.SetViewport(Viewport{W: 64, H: 64, MaxDepth: 1})
	sec.Draw(3, 1, 0, 0)
	if err := sec.End(); err != nil {
		t.Fatalf("secondary End: %v", err)
	}
	if len(sec.Jobs()) != 1 || sec.Jobs()[0].Type != JobTypeCLSecondary {
		t.Fatalf("secondary jobs = %+v, want one branch-target job", sec.Jobs())
	}
	secJob := sec.Jobs()[0]
	if n := len(findPackets(t, &secJob.BCL, cl.OpReturnFromSubList)); n != 1 {
		t.Fatalf("secondary BCL has %d RETURN_FROM_SUB_LIST, want 1", n)
	}

	prim := NewCommandBuffer(d, LevelPrimary)
	prim.Begin(0, nil)
	prim.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, nil)
	prim.ExecuteCommands([]*CommandBuffer{sec})
	if prim.dirty != dirtyAll {
		t.Error("ExecuteCommands did not re-dirty the draw state")
	}
	prim.EndRenderPass()
	if err := prim.End(); err != nil {
		t.Fatalf("primary End: %v", err)
	}

	var branches int
	var primJob *Job
	for _, j := range prim.Jobs() {
		if j.Type != JobTypeCL {
			continue
		}
		b := findPackets(t, &j.BCL, cl.OpBranchToSubList)
		if len(b) > 0 {
			branches += len(b)
			primJob = j
		}
	}
	if branches != 1 {
		t.Fatalf("primary BCLs contain %d BRANCH_TO_SUB_LIST, want 1", branches)
	}
	if primJob.DrawCount != 1 {
		t.Errorf("primary job draw count = %d, want the secondary's 1", primJob.DrawCount)
	}
	for _, b := range secJob.BOs.All() {
		if !primJob.BOs.Contains(b) {
			t.Fatal("secondary BO missing from primary job's BO set")
		}
	}

	// Destroying the clone must not free the secondary's blocks.
	prim.Reset()
	if secJob.BCL.First() == nil || !secJob.BCL.First().Mapped() {
		t.Error("primary reset freed the secondary's control list blocks")
	}
}

func TestEarlyZStateMachine(t *testing.T) {
	tests := []struct {
		name string
		dirs []EZDirection
		want EZState
	}{
		{"undecided stays", []EZDirection{EZDirectionUndecided}, EZUndecided},
		{"first direction sticks", []EZDirection{EZDirectionLTLE, EZDirectionLTLE}, EZLTLE},
		{"gtge direction", []EZDirection{EZDirectionGTGE}, EZGTGE},
		{"direction flip disables", []EZDirection{EZDirectionLTLE, EZDirectionGTGE}, EZDisabled},
		{"reverse flip disables", []EZDirection{EZDirectionGTGE, EZDirectionLTLE}, EZDisabled},
		{"explicit disable", []EZDirection{EZDirectionLTLE, EZDirectionDisabled}, EZDisabled},
		{"disabled never recovers", []EZDirection{EZDirectionDisabled, EZDirectionLTLE}, EZDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{}
			for _, dir := range tt.dirs {
				j.updateEZ(dir)
			}
			if j.ez != tt.want {
				t.Errorf("ez = %d, want %d", j.ez, tt.want)
			}
		})
	}
}

func TestSerializeDrawsSplitsPerDraw(t *testing.T) {
	alloc := bo.NewHostAllocator()
	d := NewDevice(alloc, &stubCompiler{}, DeviceOptions{
		HWVersion: 42, MergeSubpassJobs: true, SerializeDraws: true,
	})
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 64, 64)
	pass := singleColorPass(LoadOpDontCare, StoreOpStore)
	p := testPipeline(t, d)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, nil)
	cb.BindPipeline(p)
	cb.SetViewport(Viewport{W: 64, H: 64, MaxDepth: 1})
	cb.Draw(3, 1, 0, 0)
	cb.Draw(3, 1, 0, 0)
	cb.Draw(3, 1, 0, 0)
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(cb.Jobs()) != 3 {
		t.Fatalf("serialized draws produced %d jobs, want 3", len(cb.Jobs()))
	}
	for i, j := range cb.Jobs() {
		if j.DrawCount != 1 {
			t.Errorf("job %d draw count = %d, want 1", i, j.DrawCount)
		}
	}
}

func TestPipelineBarrierSerializesNextJob(t *testing.T) {
	d, alloc := newTestDevice(t)
	src, _ := alloc.Alloc(256)
	dst, _ := alloc.Alloc(256)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.CopyBuffer(src, 0, dst, 0, 256)
	cb.PipelineBarrier()
	cb.CopyBuffer(dst, 0, src, 0, 256)
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	jobs := cb.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("recorded %d jobs, want 2", len(jobs))
	}
	if jobs[0].SerializeWithPrior {
		t.Error("first copy serialized without a barrier")
	}
	if !jobs[1].SerializeWithPrior {
		t.Error("copy after barrier not serialized")
	}
}

func TestVariantCompilationMemoized(t *testing.T) {
	comp := &stubCompiler{}
	d := NewDevice(bo.NewHostAllocator(), comp, DefaultDeviceOptions())

	key := VariantKey{Pipeline: 1, Stage: StageFragment}
	for i := 0; i < 3; i++ {
		if _, err := d.compileVariant(key); err != nil {
			t.Fatalf("compileVariant: %v", err)
		}
	}
	if comp.calls != 1 {
		t.Errorf("compiler invoked %d times for one key, want 1", comp.calls)
	}
	if _, err := d.compileVariant(VariantKey{Pipeline: 1, Stage: StageVertex}); err != nil {
		t.Fatalf("compileVariant: %v", err)
	}
	if comp.calls != 2 {
		t.Errorf("compiler invoked %d times for two keys, want 2", comp.calls)
	}
}

func TestRecordingAfterEndIsRejected(t *testing.T) {
	d, _ := newTestDevice(t)
	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := cb.End(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second End = %v, want ErrNotRecording", err)
	}
	before := len(cb.Jobs())
	cb.Draw(3, 1, 0, 0)
	if len(cb.Jobs()) != before {
		t.Error("Draw after End mutated the job list")
	}
}
