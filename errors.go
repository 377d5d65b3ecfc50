package v3d

import "github.com/pkg/errors"

// Recording and submission errors. Recoverable failures surface
// exclusively through these at well-defined call boundaries; End is
// the only recording call whose return value reflects accumulated
// failures.
var (
	// ErrOutOfHostMemory is returned by End when any allocation failed
	// during recording. The command buffer is left in the failed state
	// and must be reset before reuse.
	ErrOutOfHostMemory = errors.New("v3d: out of host memory")

	// ErrOutOfDeviceMemory is returned when a device allocation for a
	// user resource cannot be satisfied.
	ErrOutOfDeviceMemory = errors.New("v3d: out of device memory")

	// ErrDeviceLost is returned by Queue.Submit when the kernel rejects
	// or cannot execute a job. No retry is attempted.
	ErrDeviceLost = errors.New("v3d: device lost")

	// ErrNotRecording is returned when a recording call is made on a
	// command buffer that has not begun or has already ended.
	ErrNotRecording = errors.New("v3d: command buffer is not recording")
)
