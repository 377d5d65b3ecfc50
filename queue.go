package v3d

import (
	"sync"
	"time"

	"github.com/gogpu/v3d/bo"
	"github.com/gogpu/v3d/cl"
)

// Submission is one render job translated for the kernel submission
// collaborator: the list ranges the hardware executes and everything
// it must be able to reach.
type Submission struct {
	BCLStart cl.Address
	BCLEnd   cl.Address
	RCLStart cl.Address
	RCLEnd   cl.Address

	TileAlloc *bo.BO
	TileState *bo.BO

	// BOs is every buffer object the job references, in stable
	// insertion order.
	BOs []bo.Handle

	// SerializeWithPrior asks the kernel to complete all previously
	// submitted jobs first.
	SerializeWithPrior bool
}

// Submitter is the kernel submission collaborator. Sync object
// chaining between consecutive jobs is its concern; this package only
// flags explicit serialization points.
type Submitter interface {
	SubmitCL(s Submission) error
	SubmitCopy(c CopyOp) error
}

// Queue submits recorded command buffers in order. Safe for
// concurrent use; submissions are serialized.
type Queue struct {
	device *Device
	sub    Submitter

	mu sync.Mutex
}

// NewQueue creates a queue over the submission collaborator.
func NewQueue(d *Device, sub Submitter) *Queue {
	return &Queue{device: d, sub: sub}
}

// Submit hands every job of the command buffers to the kernel in list
// order. waitAll serializes the first job against all previously
// submitted work. Any collaborator failure surfaces as ErrDeviceLost;
// no retry is attempted.
func (q *Queue) Submit(cmdBuffers []*CommandBuffer, waitAll bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	first := true
	for _, cb := range cmdBuffers {
		q.device.assert(cb.level == LevelPrimary, "submitting a secondary command buffer")
		q.device.assert(cb.status == StatusExecutable, "submitting a command buffer that is not executable")
		for _, j := range cb.jobs {
			if err := q.submitJob(j, first && waitAll); err != nil {
				return err
			}
			first = false
		}
	}
	return nil
}

func (q *Queue) submitJob(j *Job, waitPrior bool) error {
	switch j.Type {
	case JobTypeCL, JobTypeCLSecondary:
		s := Submission{
			BCLStart:           cl.Address{BO: j.BCL.First()},
			BCLEnd:             j.BCL.Addr(),
			RCLStart:           cl.Address{BO: j.RCL.First()},
			RCLEnd:             j.RCL.Addr(),
			TileAlloc:          j.TileAlloc,
			TileState:          j.TileState,
			BOs:                j.BOs.Handles(),
			SerializeWithPrior: j.SerializeWithPrior || waitPrior,
		}
		if err := q.sub.SubmitCL(s); err != nil {
			Logger().Warn("v3d: kernel rejected job", "job", j.Serial, "err", err)
			return ErrDeviceLost
		}
	case JobTypeCopy:
		if err := q.sub.SubmitCopy(j.Copy); err != nil {
			Logger().Warn("v3d: kernel rejected copy job", "job", j.Serial, "err", err)
			return ErrDeviceLost
		}
	case JobTypeCPU:
		q.runCPUJob(j)
	}
	return nil
}

// runCPUJob executes a deferred host action inline on the submitting
// goroutine, in submission order.
func (q *Queue) runCPUJob(j *Job) {
	op := &j.CPU
	switch op.Kind {
	case CPUOpEndQuery:
		op.Pool.Available[op.Query].Store(true)
	case CPUOpSetEvent:
		op.Event.Set()
	case CPUOpResetEvent:
		op.Event.Reset()
	case CPUOpWaitEvents:
		for _, e := range op.Events {
			for !e.Signaled() {
				time.Sleep(10 * time.Microsecond)
			}
		}
	}
}
