// Package cl implements the growable control-list encoder for the V3D
// command-list ISA.
//
// A List is an append-only byte stream backed by GPU-mapped buffer
// objects. Blocks are never moved or reallocated: when the current
// block runs out of space a fresh block is allocated and the old block
// is terminated with a BRANCH packet pointing at the new one, so
// addresses handed out earlier stay valid for the lifetime of the list.
//
// Callers reserve space up front with EnsureSpace or
// EnsureSpaceWithBranch and then emit packets; Emit does not grow the
// list on its own. Running out of backing memory while growing a list
// is not a recoverable condition at this layer and panics (the
// recoverable out-of-memory paths live in the command buffer, which
// checks its allocator at job boundaries).
package cl

import (
	"fmt"

	"github.com/gogpu/v3d/bo"
)

// defaultBlockSize is the allocation size for new list blocks.
const defaultBlockSize = 256 * 1024

// Address is a GPU pointer into a buffer object: the (block, offset)
// handle consumed by packets that reference list or resource memory.
//
// Addresses remain valid across later block chaining because blocks are
// append-only and never relocated.
type Address struct {
	BO     *bo.BO
	Offset uint32
}

// Absolute returns the address in the flat GPU address space.
func (a Address) Absolute() uint32 {
	if a.BO == nil {
		return a.Offset
	}
	return a.BO.Offset + a.Offset
}

// List is a single control list: binning, rendering or indirect.
type List struct {
	alloc bo.Allocator
	set   *bo.Set

	buf  *bo.BO // current block, nil until first reservation
	base []byte
	next uint32
	size uint32

	first  *bo.BO   // first block, where the hardware starts reading
	blocks []*bo.BO // every block in chain order, owned unless borrowed

	// raw tracks byte ranges holding data rather than packets (shader
	// state records, uniform streams), so the decoder steps over them.
	raw []rawSpan

	// borrowed marks lists that alias another list's blocks (job
	// clones). A borrowed list must never free its blocks.
	borrowed bool
}

// rawSpan is a half-open data range [start, end) within one block.
type rawSpan struct {
	b          *bo.BO
	start, end uint32
}

// Init prepares an empty list that allocates from alloc and registers
// every block it creates with set.
func (l *List) Init(alloc bo.Allocator, set *bo.Set) {
	*l = List{alloc: alloc, set: set}
}

// Begin asserts the list is at its start. It exists to mirror the
// command buffer lifecycle: a list is only begun on a freshly
// initialized or reset command buffer.
func (l *List) Begin() {
	if l.Offset() != 0 {
		panic("cl: Begin on non-empty list")
	}
}

// Reset returns the list to its initial empty state, dropping block
// references without freeing them. Destroy frees.
func (l *List) Reset() {
	alloc, set := l.alloc, l.set
	l.Init(alloc, set)
}

// Destroy frees every block owned by the list and leaves the list in a
// reset state to catch use after destroy. Borrowed lists only drop
// their references.
func (l *List) Destroy() {
	if !l.borrowed {
		for _, b := range l.blocks {
			l.alloc.Free(b)
		}
	}
	l.Init(nil, nil)
}

// Borrow makes l an alias of src: same blocks, same cursor, no
// ownership. Used when cloning a job for secondary command buffer
// execution.
func (l *List) Borrow(src *List) {
	*l = *src
	l.borrowed = true
}

// Offset returns the write offset within the current block.
func (l *List) Offset() uint32 { return l.next }

// First returns the first block of the chain, or nil if nothing has
// been reserved yet. The hardware begins execution here.
func (l *List) First() *bo.BO { return l.first }

// Current returns the block the cursor is in, or nil.
func (l *List) Current() *bo.BO { return l.buf }

// Empty reports whether nothing has ever been emitted.
func (l *List) Empty() bool {
	return l.first == nil || (l.buf == l.first && l.next == 0)
}

// Addr returns the GPU address of the current cursor position.
func (l *List) Addr() Address {
	return Address{BO: l.buf, Offset: l.next}
}

// EnsureSpace guarantees space contiguous bytes aligned to align are
// available at the cursor, allocating a fresh block when the current
// one cannot fit them. No branch is emitted: this is for the indirect
// list, whose chunks are always referenced by explicit addresses.
// It returns the aligned cursor address.
func (l *List) EnsureSpace(space, align uint32) Address {
	if align == 0 {
		align = 1
	}
	offset := (l.next + align - 1) &^ (align - 1)
	if l.buf != nil && offset+space <= l.size {
		l.next = offset
		return l.Addr()
	}
	l.newBlock(space)
	return l.Addr()
}

// EnsureSpaceWithBranch guarantees space bytes plus room for a trailing
// BRANCH packet are available at the cursor. When the current block is
// too small, a new block is chained in and the old block is terminated
// with a BRANCH to the new block's base, so the hardware follows the
// chain transparently. The spare branch room means a caller that must
// emit a branch packet at exactly this point can always do so.
func (l *List) EnsureSpaceWithBranch(space uint32) {
	if l.buf != nil && l.next+space+branchLen <= l.size {
		return
	}

	old := l.buf
	oldNext := l.next
	l.newBlock(space + branchLen)
	if old != nil {
		// Terminate the superseded block. Every block keeps
		// branchLen spare bytes, so the write cannot overflow.
		encodeBranch(old.Map, oldNext, Address{BO: l.buf})
	}
}

// newBlock allocates, maps and installs a fresh block sized for at
// least space bytes. Allocation or mapping failure is fatal.
func (l *List) newBlock(space uint32) {
	size := uint32(defaultBlockSize)
	if space > size {
		size = space
	}

	b, err := l.alloc.Alloc(size)
	if err != nil {
		panic(fmt.Sprintf("cl: failed to allocate memory for control list: %v", err))
	}
	if err := l.alloc.Map(b); err != nil {
		panic(fmt.Sprintf("cl: failed to map control list buffer: %v", err))
	}

	if l.set != nil {
		l.set.Add(b)
	}
	if l.first == nil {
		l.first = b
	}
	l.blocks = append(l.blocks, b)
	l.buf = b
	l.base = b.Map
	l.size = b.Size
	l.next = 0
}

// write appends raw bytes at the cursor. Space must have been reserved.
func (l *List) write(p []byte) {
	if l.buf == nil || l.next+uint32(len(p)) > l.size {
		panic("cl: emit without reserved space")
	}
	copy(l.base[l.next:], p)
	l.next += uint32(len(p))
}

// WriteData appends non-packet bytes at the cursor, aligned to align,
// and returns their address. Indirect lists interleave these data
// blobs with packets; the written range (including any alignment pad)
// is marked so decoding still works.
func (l *List) WriteData(p []byte, align uint32) Address {
	from := l.next
	prev := l.buf
	addr := l.EnsureSpace(uint32(len(p)), align)
	if l.buf != prev {
		from = 0
	}
	copy(l.base[l.next:], p)
	l.next += uint32(len(p))
	l.markRaw(from, l.next)
	return addr
}

// markRaw records [start, end) of the current block as data, merging
// with the previous range when they touch.
func (l *List) markRaw(start, end uint32) {
	if n := len(l.raw); n > 0 && l.raw[n-1].b == l.buf && start <= l.raw[n-1].end {
		if end > l.raw[n-1].end {
			l.raw[n-1].end = end
		}
		return
	}
	l.raw = append(l.raw, rawSpan{b: l.buf, start: start, end: end})
}

// Skip advances the cursor over bytes the caller wrote directly into
// the current block's mapping. Space must have been reserved.
func (l *List) Skip(n uint32) {
	if l.buf == nil || l.next+n > l.size {
		panic("cl: skip without reserved space")
	}
	l.next += n
}

// addBO registers a BO referenced by an emitted address with the
// owning job's BO set.
func (l *List) addBO(b *bo.BO) {
	if l.set != nil && b != nil {
		l.set.Add(b)
	}
}
