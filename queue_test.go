package v3d

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/bo"
)

// captureSubmitter records every submission and optionally fails.
type captureSubmitter struct {
	cls    []Submission
	copies []CopyOp
	failCL error
}

func (s *captureSubmitter) SubmitCL(sub Submission) error {
	if s.failCL != nil {
		return s.failCL
	}
	s.cls = append(s.cls, sub)
	return nil
}

func (s *captureSubmitter) SubmitCopy(c CopyOp) error {
	s.copies = append(s.copies, c)
	return nil
}

func recordClearPass(t *testing.T, d *Device, alloc *bo.HostAllocator) *CommandBuffer {
	t.Helper()
	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 64, 64)
	pass := singleColorPass(LoadOpClear, StoreOpStore)
	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, []ClearValue{{}})
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	return cb
}

func TestQueueSubmitTranslatesRenderJob(t *testing.T) {
	d, alloc := newTestDevice(t)
	sub := &captureSubmitter{}
	q := NewQueue(d, sub)

	cb := recordClearPass(t, d, alloc)
	if err := q.Submit([]*CommandBuffer{cb}, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(sub.cls) != 1 {
		t.Fatalf("submitted %d CL jobs, want 1", len(sub.cls))
	}
	s := sub.cls[0]
	j := cb.Jobs()[0]

	if s.BCLStart.BO != j.BCL.First() {
		t.Error("submission BCL start does not reference the first block")
	}
	if s.RCLStart.BO != j.RCL.First() {
		t.Error("submission RCL start does not reference the first block")
	}
	if s.TileAlloc != j.TileAlloc || s.TileState != j.TileState {
		t.Error("tile working buffers not passed through")
	}
	if len(s.BOs) != j.BOs.Len() {
		t.Errorf("submission carries %d BOs, job references %d", len(s.BOs), j.BOs.Len())
	}
	if s.SerializeWithPrior {
		t.Error("plain submission asked for serialization")
	}
}

func TestQueueSubmitWaitAllSerializesFirstJobOnly(t *testing.T) {
	d, alloc := newTestDevice(t)
	sub := &captureSubmitter{}
	q := NewQueue(d, sub)

	cb1 := recordClearPass(t, d, alloc)
	cb2 := recordClearPass(t, d, alloc)
	if err := q.Submit([]*CommandBuffer{cb1, cb2}, true); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(sub.cls) != 2 {
		t.Fatalf("submitted %d CL jobs, want 2", len(sub.cls))
	}
	if !sub.cls[0].SerializeWithPrior {
		t.Error("first job not serialized with waitAll")
	}
	if sub.cls[1].SerializeWithPrior {
		t.Error("waitAll leaked into the second job")
	}
}

func TestQueueSubmitFailureIsDeviceLost(t *testing.T) {
	d, alloc := newTestDevice(t)
	sub := &captureSubmitter{failCL: errors.New("EINVAL")}
	q := NewQueue(d, sub)

	cb := recordClearPass(t, d, alloc)
	if err := q.Submit([]*CommandBuffer{cb}, false); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("Submit = %v, want ErrDeviceLost", err)
	}
}

func TestQueueSubmitCopyJob(t *testing.T) {
	d, alloc := newTestDevice(t)
	sub := &captureSubmitter{}
	q := NewQueue(d, sub)

	src, _ := alloc.Alloc(128)
	dst, _ := alloc.Alloc(128)
	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.CopyBuffer(src, 16, dst, 32, 64)
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if err := q.Submit([]*CommandBuffer{cb}, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(sub.copies) != 1 {
		t.Fatalf("submitted %d copies, want 1", len(sub.copies))
	}
	c := sub.copies[0]
	if c.Src != src || c.SrcOffset != 16 || c.Dst != dst || c.DstOffset != 32 || c.Size != 64 {
		t.Errorf("copy payload = %+v", c)
	}
}

func TestQueueRunsCPUJobsInline(t *testing.T) {
	d, _ := newTestDevice(t)
	sub := &captureSubmitter{}
	q := NewQueue(d, sub)

	var set, gate Event
	gate.Set() // pre-signaled so the wait returns immediately

	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.WaitEvents([]*Event{&gate})
	cb.SetEvent(&set)
	cb.ResetEvent(&gate)
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if set.Signaled() {
		t.Fatal("event signaled at record time instead of submit time")
	}
	if err := q.Submit([]*CommandBuffer{cb}, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !set.Signaled() {
		t.Error("SetEvent job did not run")
	}
	if gate.Signaled() {
		t.Error("ResetEvent job did not run")
	}
}

func TestQueryAvailabilityFlipsAtSubmit(t *testing.T) {
	d, alloc := newTestDevice(t)
	sub := &captureSubmitter{}
	q := NewQueue(d, sub)

	pool, err := NewQueryPool(d, 4)
	if err != nil {
		t.Fatalf("NewQueryPool: %v", err)
	}

	fb := newTestFramebuffer(t, alloc, []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm}, 64, 64)
	pass := singleColorPass(LoadOpClear, StoreOpStore)
	cb := NewCommandBuffer(d, LevelPrimary)
	cb.Begin(0, nil)
	cb.BeginRenderPass(pass, fb, Rect{W: 64, H: 64}, []ClearValue{{}})
	cb.BeginQuery(pool, 2)
	cb.EndQuery(pool, 2)
	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if pool.Available[2].Load() {
		t.Fatal("query available before submission")
	}
	if err := q.Submit([]*CommandBuffer{cb}, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !pool.Available[2].Load() {
		t.Error("query not available after submission")
	}
	if pool.Available[0].Load() {
		t.Error("unrelated query flipped available")
	}
}
