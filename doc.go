// Package v3d implements the command-buffer compiler and job scheduler
// for the Broadcom V3D 4.x tile-based GPU.
//
// The package translates recorded drawing commands into the binary
// control-list format executed by the hardware's two-phase tiled
// pipeline: a binning pass that sorts geometry into per-tile lists and
// a rendering pass that replays each tile through the tile buffer.
// Recording produces a sequence of jobs, each owning a binning control
// list (BCL), a rendering control list (RCL) and an auxiliary indirect
// list, plus the set of buffer objects the kernel must page in for it.
//
// The heavy lifting lives in three layers:
//
//   - CommandBuffer accumulates API state (pipeline, dynamic state,
//     render pass position) and decides job boundaries, including
//     merging consecutive subpasses into one hardware job when their
//     tile-buffer configuration is identical.
//   - Job owns the control lists and buffer-object set for one unit of
//     GPU work, or a deferred CPU-side action.
//   - Package cl encodes hardware packets into growable, chained
//     control-list blocks.
//
// The shader compiler, kernel memory allocator and kernel submission
// interface are collaborators consumed through the ShaderCompiler,
// bo.Allocator and Submitter interfaces; this package never talks to
// the kernel directly.
//
// Recording is single-threaded per command buffer. Distinct command
// buffers can be recorded concurrently from separate goroutines; the
// only shared state is the device's pipeline caches, which are
// internally locked.
package v3d
