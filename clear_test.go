package v3d

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/cl"
)

func TestClearAttachmentsFastPath(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 128, 128)
	pass := singleColorPass(LoadOpLoad, StoreOpStore)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 128, H: 128}, nil)
	cb.ClearAttachments(
		[]ClearAttachment{{
			Aspects: AspectColor,
			Slot:    0,
			Value:   ClearValue{Color: gputypes.Color{R: 1, A: 1}},
		}},
		[]ClearRect{{Rect: Rect{W: 128, H: 128}, LayerCount: 1}},
	)
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	// The clear runs as its own job with no geometry, split off after
	// the subpass's open job.
	var clearJob *Job
	for _, j := range cb.Jobs() {
		if j.Type == JobTypeCL && j.DrawCount == 0 {
			clearJob = j
		}
	}
	if clearJob == nil {
		t.Fatal("no dedicated clear job recorded")
	}
	stores := findPackets(t, &clearJob.Indirect, cl.OpStoreTileBufferGeneral)
	if len(stores) != 1 {
		t.Fatalf("clear job emitted %d stores, want 1", len(stores))
	}
	if stores[0].Payload[1]&1 == 0 {
		t.Error("clear job store does not carry the clear flag")
	}
	if got := findPackets(t, &clearJob.Indirect, cl.OpBranchToImplicitTileList); len(got) != 1 {
		t.Error("clear job tile list is missing the implicit tile list branch")
	}
	if totalDraws(cb) != 0 {
		t.Errorf("fast path recorded %d draws", totalDraws(cb))
	}
}

func TestClearAttachmentsDepthStencilFastPath(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{
		gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatDepth24PlusStencil8,
	}, 64, 64)
	pass := NewRenderPass(
		[]AttachmentDescription{
			{Format: gputypes.TextureFormatRGBA8Unorm, Samples: 1, LoadOp: LoadOpLoad, StoreOp: StoreOpStore},
			{
				Format: gputypes.TextureFormatDepth24PlusStencil8, Samples: 1,
				LoadOp: LoadOpLoad, StoreOp: StoreOpStore,
				StencilLoadOp: LoadOpLoad, StencilStoreOp: StoreOpStore,
			},
		},
		[]SubpassDescription{{
			ColorAttachments:       []AttachmentReference{{Attachment: 0}},
			DepthStencilAttachment: AttachmentReference{Attachment: 1},
		}},
	)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, nil)
	cb.ClearAttachments(
		[]ClearAttachment{{
			Aspects: AspectDepth | AspectStencil,
			Value:   ClearValue{Depth: 1, Stencil: 0xff},
		}},
		[]ClearRect{{Rect: Rect{W: 64, H: 64}, LayerCount: 1}},
	)
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	var clearJob *Job
	for _, j := range cb.Jobs() {
		if j.Type == JobTypeCL && j.DrawCount == 0 {
			clearJob = j
		}
	}
	if clearJob == nil {
		t.Fatal("no dedicated clear job recorded")
	}
	clears := findPackets(t, &clearJob.Indirect, cl.OpClearTileBuffers)
	if len(clears) != 1 || clears[0].Payload[0]&1 == 0 {
		t.Fatal("depth/stencil clear did not go through CLEAR_TILE_BUFFERS")
	}
	// A depth-only clear has no color stores; the store unit still
	// needs its two dummy stores.
	stores := findPackets(t, &clearJob.Indirect, cl.OpStoreTileBufferGeneral)
	if len(stores) != 2 {
		t.Fatalf("emitted %d stores, want 2 dummy stores", len(stores))
	}
	for _, s := range stores {
		if cl.TileBuffer(s.Payload[0]) != cl.TileBufferNone {
			t.Errorf("dummy store targets buffer %d, want none", s.Payload[0])
		}
	}
}

func TestClearAttachmentsPartialRectFallsBackToDraw(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 128, 128)
	pass := singleColorPass(LoadOpLoad, StoreOpStore)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 128, H: 128}, nil)
	cb.ClearAttachments(
		[]ClearAttachment{{
			Aspects: AspectColor,
			Value:   ClearValue{Color: gputypes.Color{G: 1, A: 1}},
		}},
		[]ClearRect{{Rect: Rect{X: 10, Y: 10, W: 20, H: 20}, LayerCount: 1}},
	)
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if got := totalDraws(cb); got != 1 {
		t.Fatalf("partial clear recorded %d draws, want 1", got)
	}
	// The original pass state survives the meta pass.
	if cb.pipeline != nil {
		t.Error("meta clear leaked its pipeline binding")
	}
}

func TestClearAttachmentsMultipleRects(t *testing.T) {
	d, alloc := newTestDevice(t)
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 128, 128)
	pass := singleColorPass(LoadOpLoad, StoreOpStore)

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 128, H: 128}, nil)
	cb.ClearAttachments(
		[]ClearAttachment{{Aspects: AspectColor, Value: ClearValue{}}},
		[]ClearRect{
			{Rect: Rect{X: 0, Y: 0, W: 16, H: 16}, LayerCount: 1},
			{Rect: Rect{X: 64, Y: 64, W: 16, H: 16}, LayerCount: 1},
		},
	)
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if got := totalDraws(cb); got != 2 {
		t.Errorf("two rects recorded %d draws, want 2", got)
	}
}

func TestClearPipelineCache(t *testing.T) {
	d, _ := newTestDevice(t)
	p1, err := d.clearPipeline(gputypes.TextureFormatRGBA8Unorm, 1)
	if err != nil {
		t.Fatalf("clearPipeline: %v", err)
	}
	p2, err := d.clearPipeline(gputypes.TextureFormatRGBA8Unorm, 1)
	if err != nil {
		t.Fatalf("clearPipeline: %v", err)
	}
	if p1 != p2 {
		t.Error("same key built two clear pipelines")
	}
	p3, err := d.clearPipeline(gputypes.TextureFormatRGBA8Unorm, 4)
	if err != nil {
		t.Fatalf("clearPipeline: %v", err)
	}
	if p3 == p1 {
		t.Error("different sample count shared a clear pipeline")
	}
}
