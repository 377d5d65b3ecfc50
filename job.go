package v3d

import (
	"math/bits"
	"sync/atomic"

	"github.com/gogpu/v3d/bo"
	"github.com/gogpu/v3d/cl"
)

// JobType discriminates the units of work a command buffer produces.
type JobType uint8

const (
	// JobTypeCL is a tiled render job with binning and rendering lists.
	JobTypeCL JobType = iota
	// JobTypeCLSecondary is a branch target recorded by a secondary
	// command buffer; its BCL ends in RETURN_FROM_SUB_LIST.
	JobTypeCLSecondary
	// JobTypeCopy is a direct memory copy executed by the transfer
	// unit, with no control lists.
	JobTypeCopy
	// JobTypeCPU is a deferred host-side action executed in submission
	// order.
	JobTypeCPU
)

// EZState is the early-Z decision for a job. It only ever moves
// forward: once a direction is picked it can be disabled but never
// reversed, because binned geometry already depends on it.
type EZState uint8

const (
	EZUndecided EZState = iota
	EZLTLE
	EZGTGE
	EZDisabled
)

// CPUOpKind selects the deferred action of a CPU job.
type CPUOpKind uint8

const (
	CPUOpEndQuery CPUOpKind = iota
	CPUOpSetEvent
	CPUOpResetEvent
	CPUOpWaitEvents
)

// Event is a host-visible signal flipped by CPU jobs in submission
// order.
type Event struct {
	state atomic.Bool
}

// Set marks the event signaled.
func (e *Event) Set() { e.state.Store(true) }

// Reset marks the event unsignaled.
func (e *Event) Reset() { e.state.Store(false) }

// Signaled reports the event state.
func (e *Event) Signaled() bool { return e.state.Load() }

// QueryPool holds occlusion query results. The GPU writes counters
// into the results BO; the end-query CPU job flips availability.
type QueryPool struct {
	Results   *bo.BO
	Available []atomic.Bool
}

// NewQueryPool allocates a pool of count occlusion queries.
func NewQueryPool(d *Device, count uint32) (*QueryPool, error) {
	b, err := d.alloc.Alloc(count * 4)
	if err != nil {
		return nil, ErrOutOfDeviceMemory
	}
	if err := d.alloc.Map(b); err != nil {
		d.alloc.Free(b)
		return nil, ErrOutOfDeviceMemory
	}
	return &QueryPool{Results: b, Available: make([]atomic.Bool, count)}, nil
}

// CPUOp is the payload of a JobTypeCPU job.
type CPUOp struct {
	Kind CPUOpKind

	Event  *Event
	Events []*Event

	Pool  *QueryPool
	Query uint32
}

// CopyOp is the payload of a JobTypeCopy job.
type CopyOp struct {
	Src       *bo.BO
	SrcOffset uint32
	Dst       *bo.BO
	DstOffset uint32
	Size      uint32
}

var jobSerial atomic.Uint64

// Job is one schedulable unit of GPU or CPU work. A render job owns a
// binning list, a rendering list and an auxiliary indirect list, plus
// the set of BOs the kernel must reference to execute them.
type Job struct {
	Type   JobType
	Serial uint64

	device *Device

	BCL      cl.List
	RCL      cl.List
	Indirect cl.List
	BOs      *bo.Set

	Tiling       FrameTiling
	frameStarted bool
	TileAlloc    *bo.BO
	TileState    *bo.BO

	// FirstSubpass is the subpass the job was opened for; with merging
	// a job may cover several consecutive subpasses.
	FirstSubpass uint32

	ez                EZState
	IsSubpassContinue bool
	IsSubpassFinish   bool
	AlwaysFlush       bool
	DrawCount         uint32
	rclEmitted        bool

	// clone marks a job whose CL blocks are aliased from another job
	// and must not be freed through this one.
	clone bool

	CPU  CPUOp
	Copy CopyOp

	// SerializeWithPrior forces the kernel to complete all previously
	// submitted jobs before this one starts (barrier semantics).
	SerializeWithPrior bool
}

// newJob creates an empty job of the given type. Control lists and the
// BO set are initialized for render job types only.
func newJob(d *Device, typ JobType) *Job {
	j := &Job{
		Type:   typ,
		Serial: jobSerial.Add(1),
		device: d,
	}
	if typ == JobTypeCL || typ == JobTypeCLSecondary {
		j.BOs = bo.NewSet()
		j.BCL.Init(d.alloc, j.BOs)
		j.RCL.Init(d.alloc, j.BOs)
		j.Indirect.Init(d.alloc, j.BOs)
	}
	return j
}

// Destroy releases the job's control list blocks and frame buffers.
// Clones release nothing: their blocks belong to the source job.
func (j *Job) Destroy() {
	if j.clone {
		return
	}
	if j.Type == JobTypeCL || j.Type == JobTypeCLSecondary {
		j.BCL.Destroy()
		j.RCL.Destroy()
		j.Indirect.Destroy()
	}
	if j.TileAlloc != nil {
		j.device.alloc.Free(j.TileAlloc)
		j.TileAlloc = nil
	}
	if j.TileState != nil {
		j.device.alloc.Free(j.TileState)
		j.TileState = nil
	}
}

// clone produces a shallow job that aliases the source's control list
// blocks and shares its BO set. Used when a secondary command buffer
// is executed into a primary: the primary's submission must reference
// the secondary's blocks without taking ownership.
func (j *Job) cloneJob() *Job {
	c := &Job{}
	*c = *j
	c.Serial = jobSerial.Add(1)
	c.clone = true
	c.BCL.Borrow(&j.BCL)
	c.RCL.Borrow(&j.RCL)
	c.Indirect.Borrow(&j.Indirect)
	return c
}

// startFrame sizes and allocates the binner's working buffers and
// emits the frame setup into the BCL. Allocation failure is a job
// boundary failure: the caller keeps the job unusable and surfaces
// out-of-memory at End.
func (j *Job) startFrame(t FrameTiling) error {
	j.Tiling = t

	tileAlloc, err := j.device.alloc.Alloc(t.TileAllocSize())
	if err != nil {
		return ErrOutOfHostMemory
	}
	tileState, err := j.device.alloc.Alloc(t.TileStateSize())
	if err != nil {
		j.device.alloc.Free(tileAlloc)
		return ErrOutOfHostMemory
	}
	j.TileAlloc = tileAlloc
	j.TileState = tileState
	j.BOs.Add(tileAlloc)
	j.BOs.Add(tileState)

	j.BCL.Begin()
	j.BCL.EnsureSpaceWithBranch(256)
	j.BCL.Emit(cl.TileBinningModeCfg{
		WidthPixels:        uint16(t.Width),
		HeightPixels:       uint16(t.Height),
		Log2TileWidth:      log2TileDim(t.TileWidth),
		Log2TileHeight:     log2TileDim(t.TileHeight),
		RenderTargets:      uint8(t.RenderTargets),
		MaxBPP:             t.InternalBPP,
		Layers:             uint8(t.Layers),
		TileAllocBlockSize: cl.TileAllocBlock64,
		TileAllocAddr:      cl.Address{BO: tileAlloc},
		TileStateAddr:      cl.Address{BO: tileState},
	})

	j.BCL.Emit(cl.NumberOfLayers{Layers: uint8(t.Layers)})

	// The binner starts writing the tile lists as soon as binning
	// starts; flush the VCD cache so stale vertex data from a prior
	// frame cannot leak in.
	j.BCL.Emit(cl.FlushVCDCache{})
	j.BCL.Emit(cl.StartTileBinning{})

	j.frameStarted = true
	Logger().Debug("v3d: frame started",
		"job", j.Serial,
		"tiles", [2]uint32{t.DrawTilesX, t.DrawTilesY},
		"tile", [2]uint32{t.TileWidth, t.TileHeight})
	return nil
}

// updateEZ folds a draw's early-Z compatibility into the job state.
// The transition is monotonic: Undecided can become a direction, any
// state can become Disabled, and nothing else changes.
func (j *Job) updateEZ(dir EZDirection) {
	switch dir {
	case EZDirectionLTLE:
		if j.ez == EZUndecided {
			j.ez = EZLTLE
		} else if j.ez == EZGTGE {
			j.ez = EZDisabled
		}
	case EZDirectionGTGE:
		if j.ez == EZUndecided {
			j.ez = EZGTGE
		} else if j.ez == EZLTLE {
			j.ez = EZDisabled
		}
	case EZDirectionDisabled:
		j.ez = EZDisabled
	}
}

// ezEnabled reports whether the current draw may use early-Z and with
// which update direction.
func (j *Job) ezEnabled() bool {
	return j.ez == EZLTLE || j.ez == EZGTGE
}

// endBCL closes the binning list: secondary jobs return to their
// caller, primary jobs flush the binner.
func (j *Job) endBCL() {
	j.BCL.EnsureSpaceWithBranch(cl.PacketLen(cl.OpFlush) + 1)
	if j.Type == JobTypeCLSecondary {
		j.BCL.Emit(cl.ReturnFromSubList{})
	} else {
		j.BCL.Emit(cl.Flush{})
	}
}

func log2TileDim(d uint32) uint8 {
	// Encoded relative to the 8 pixel minimum tile dimension.
	return uint8(bits.TrailingZeros32(d) - 3)
}
