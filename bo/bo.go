// Package bo manages buffer objects: the GPU-visible memory blocks that
// back control lists, tile state and user resources.
//
// The kernel driver is abstracted behind the Allocator interface so the
// command-list compiler can run against real hardware, a simulator, or
// the in-process HostAllocator used by tests.
package bo

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Buffer object errors.
var (
	// ErrAllocFailed is returned when the allocator cannot obtain memory.
	ErrAllocFailed = errors.New("bo: allocation failed")

	// ErrMapFailed is returned when a buffer object cannot be mapped.
	ErrMapFailed = errors.New("bo: map failed")

	// ErrClosed is returned when operating on a closed allocator.
	ErrClosed = errors.New("bo: allocator closed")
)

// PageSize is the allocation granularity. Every BO occupies whole pages.
const PageSize = 4096

// Handle identifies a buffer object within its allocator.
// It plays the role of the kernel GEM handle.
type Handle uint32

// BO is a single GPU-visible memory allocation.
//
// Offset is the address of the BO in the GPU address space; the
// hardware consumes absolute addresses built as Offset+byte offset.
// Map is non-nil only while the BO is mapped.
type BO struct {
	Handle Handle
	Size   uint32
	Offset uint32
	Map    []byte
}

// Mapped reports whether the BO is currently CPU-visible.
func (b *BO) Mapped() bool { return b.Map != nil }

// Allocator abstracts the kernel memory collaborator.
//
// Alloc returns an unmapped BO of at least size bytes, rounded up to
// PageSize. Wait blocks until the GPU is done with the BO or the
// timeout expires; a zero timeout means wait forever.
type Allocator interface {
	Alloc(size uint32) (*BO, error)
	Map(b *BO) error
	Free(b *BO)
	Wait(b *BO, timeout time.Duration) error
}

// align rounds v up to the next multiple of a. a must be a power of two.
func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// HostAllocator is an Allocator backed by host memory.
//
// It hands out ascending fake GPU offsets so that address arithmetic in
// emitted packets is meaningful and testable. FailNext can be set to
// make the next n allocations fail, which is how the recorder's
// out-of-memory paths are exercised.
//
// HostAllocator is safe for concurrent use.
type HostAllocator struct {
	mu         sync.Mutex
	nextHandle Handle
	nextOffset uint32
	live       map[Handle]*BO
	closed     bool

	// FailNext makes the next FailNext calls to Alloc fail.
	FailNext int
}

// NewHostAllocator creates an empty host-memory allocator.
func NewHostAllocator() *HostAllocator {
	return &HostAllocator{
		nextHandle: 1,
		nextOffset: PageSize, // keep offset 0 invalid, like the kernel does
		live:       map[Handle]*BO{},
	}
}

// Alloc obtains a new buffer object of at least size bytes.
func (a *HostAllocator) Alloc(size uint32) (*BO, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.FailNext > 0 {
		a.FailNext--
		return nil, errors.Wrapf(ErrAllocFailed, "injected fault (%d bytes)", size)
	}

	size = align(size, PageSize)
	b := &BO{
		Handle: a.nextHandle,
		Size:   size,
		Offset: a.nextOffset,
	}
	a.nextHandle++
	a.nextOffset += size
	a.live[b.Handle] = b
	return b, nil
}

// Map makes the BO CPU-visible. Mapping an already-mapped BO is a no-op.
func (a *HostAllocator) Map(b *BO) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if _, ok := a.live[b.Handle]; !ok {
		return errors.Wrapf(ErrMapFailed, "unknown handle %d", b.Handle)
	}
	if b.Map == nil {
		b.Map = make([]byte, b.Size)
	}
	return nil
}

// Free releases the BO. Freeing an unknown or already-freed BO is a no-op.
func (a *HostAllocator) Free(b *BO) {
	if b == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, b.Handle)
	b.Map = nil
}

// Wait returns immediately: host memory is never busy.
func (a *HostAllocator) Wait(b *BO, timeout time.Duration) error {
	return nil
}

// LiveCount returns the number of BOs currently allocated.
func (a *HostAllocator) LiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Close marks the allocator closed. Subsequent Alloc/Map calls fail.
func (a *HostAllocator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
