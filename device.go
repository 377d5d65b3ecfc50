package v3d

import (
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/bo"
	"github.com/gogpu/v3d/internal/cache"
)

// DeviceOptions is the capability configuration computed once at device
// creation and consulted by ordinary conditional dispatch everywhere a
// behavioral decision depends on device setup.
type DeviceOptions struct {
	// HWVersion is the hardware revision (e.g. 42 for V3D 4.2). It
	// gates revision-specific workarounds.
	HWVersion int

	// MergeSubpassJobs allows consecutive subpasses with identical
	// tile-buffer configuration to share one hardware job. Disabling
	// it forces a job boundary at every subpass transition.
	MergeSubpassJobs bool

	// SerializeDraws forces a job split after every draw call so that
	// draws map 1:1 onto hardware jobs. Debug aid; also required for
	// correct sRGB blending on affected revisions.
	SerializeDraws bool

	// DebugAsserts enables precondition checks that panic on caller
	// contract violations. Release configurations leave violations
	// undefined.
	DebugAsserts bool
}

// DefaultDeviceOptions returns the configuration for a stock V3D 4.2.
func DefaultDeviceOptions() DeviceOptions {
	return DeviceOptions{
		HWVersion:        42,
		MergeSubpassJobs: true,
	}
}

// ShaderStage identifies a pipeline stage for variant compilation.
type ShaderStage uint8

const (
	StageVertex ShaderStage = iota
	StageVertexBin
	StageFragment
)

// VariantKey identifies a shader variant. Besides the pipeline
// identity it carries state the compiler specializes on, notably the
// texture return size/channel configuration derived from the bound
// image views.
type VariantKey struct {
	Pipeline uint64
	Stage    ShaderStage

	// TexStateHash summarizes the bound sampler/view state that
	// affects code generation (return size, channel count, swizzles).
	TexStateHash uint64
}

// Variant is compiled shader machine code plus its uniform layout.
type Variant struct {
	Code []byte

	// Uniforms describes the uniform stream the draw emitter must
	// build: one word fetched per entry, in order.
	Uniforms []UniformSlot
}

// UniformKind selects the source of one uniform stream word.
type UniformKind uint8

const (
	UniformConstant UniformKind = iota
	UniformPushConstant
	UniformViewportXScale
	UniformViewportYScale
	UniformViewportZScale
	UniformViewportZOffset
)

// UniformSlot is one word of the uniform stream.
type UniformSlot struct {
	Kind UniformKind
	// Data is the constant value or the push-constant byte offset,
	// depending on Kind.
	Data uint32
}

// ShaderCompiler is the out-of-scope compiler collaborator: it lowers
// a variant key to machine code. Implementations must be safe for
// concurrent use; the device memoizes results per key.
type ShaderCompiler interface {
	CompileVariant(key VariantKey) (*Variant, error)
}

// Device carries the allocator, the compiler collaborator, the
// capability configuration and the shared caches. A Device is safe for
// concurrent use by multiple command buffers.
type Device struct {
	opts     DeviceOptions
	alloc    bo.Allocator
	compiler ShaderCompiler

	// variants memoizes compiled shader variants: at most one
	// compilation per key, shared across command buffers.
	variants *cache.Sharded[VariantKey, *Variant]

	// clearPipelines caches the built-in attachment-clear pipelines by
	// format and sample count.
	clearMu        sync.Mutex
	clearPipelines map[clearPipelineKey]*Pipeline
}

type clearPipelineKey struct {
	format  gputypes.TextureFormat
	samples uint32
}

// NewDevice creates a device over the given allocator and compiler.
func NewDevice(alloc bo.Allocator, compiler ShaderCompiler, opts DeviceOptions) *Device {
	d := &Device{
		opts:           opts,
		alloc:          alloc,
		compiler:       compiler,
		variants:       cache.NewSharded[VariantKey, *Variant](0, variantKeyHash),
		clearPipelines: map[clearPipelineKey]*Pipeline{},
	}
	Logger().Info("v3d: device created",
		"hw", opts.HWVersion,
		"mergeSubpassJobs", opts.MergeSubpassJobs)
	return d
}

// Options returns the device capability configuration.
func (d *Device) Options() DeviceOptions { return d.opts }

// Allocator returns the device's buffer-object allocator.
func (d *Device) Allocator() bo.Allocator { return d.alloc }

// compileVariant returns the cached variant for key, invoking the
// compiler collaborator at most once per key.
func (d *Device) compileVariant(key VariantKey) (*Variant, error) {
	return d.variants.GetOrCreate(key, func() (*Variant, error) {
		return d.compiler.CompileVariant(key)
	})
}

// variantKeyHash is an FNV-1a fold of the key fields, used for cache
// shard selection.
func variantKeyHash(k VariantKey) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, w := range [3]uint64{k.Pipeline, uint64(k.Stage), k.TexStateHash} {
		for i := 0; i < 8; i++ {
			h ^= w >> (8 * i) & 0xff
			h *= prime
		}
	}
	return h
}

// assert panics when a caller contract is violated and DebugAsserts is
// enabled. Violations are undefined behavior otherwise.
func (d *Device) assert(cond bool, msg string) {
	if d.opts.DebugAsserts && !cond {
		panic("v3d: " + msg)
	}
}
