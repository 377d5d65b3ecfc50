package v3d

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/bo"
	"github.com/gogpu/v3d/cl"
)

// EZDirection is the early-Z configuration a pipeline is compatible
// with, derived from its depth compare function.
type EZDirection uint8

const (
	// EZDirectionUndecided means the pipeline neither requires a
	// direction nor forbids early-Z (NEVER and EQUAL compares).
	EZDirectionUndecided EZDirection = iota
	// EZDirectionLTLE covers LESS and LESS_OR_EQUAL.
	EZDirectionLTLE
	// EZDirectionGTGE covers GREATER and GREATER_OR_EQUAL.
	EZDirectionGTGE
	// EZDirectionDisabled forbids early-Z for the draw (direction
	// changing compares, or stencil test enabled).
	EZDirectionDisabled
)

// StencilOpState is the per-face stencil configuration.
type StencilOpState struct {
	Compare     gputypes.CompareFunction
	FailOp      cl.StencilOp
	DepthFailOp cl.StencilOp
	PassOp      cl.StencilOp
}

// PipelineDesc describes a graphics pipeline. The shader stages are
// identified by the pipeline ID; the compiler collaborator owns the
// source-to-variant mapping.
type PipelineDesc struct {
	Topology gputypes.PrimitiveTopology

	DepthTestEnable  bool
	DepthWriteEnable bool
	DepthCompare     gputypes.CompareFunction

	StencilTestEnable bool
	StencilFront      StencilOpState
	StencilBack       StencilOpState

	BlendEnable bool

	Multisample gputypes.MultisampleState

	// VertexStride is the byte stride of vertex buffer 0. The attribute
	// layout beyond the stride lives in the compiled variants.
	VertexStride uint32
}

// Pipeline is a compiled graphics pipeline: the descriptor plus the
// device BO holding the three stage assemblies and their offsets.
type Pipeline struct {
	ID   uint64
	Desc PipelineDesc

	// Assembly holds the coordinate (binning vertex), vertex and
	// fragment stage code back to back.
	Assembly       *bo.BO
	CoordOffset    uint32
	VertexOffset   uint32
	FragmentOffset uint32

	// Uniform layouts per stage, in shader state record order:
	// fragment, vertex, coordinate.
	FragmentUniforms []UniformSlot
	VertexUniforms   []UniformSlot
	CoordUniforms    []UniformSlot

	ezDirection EZDirection
}

var pipelineSerial atomic.Uint64

// NewPipeline compiles the default variants for desc and uploads their
// assembly into one device BO.
func (d *Device) NewPipeline(desc PipelineDesc) (*Pipeline, error) {
	p := &Pipeline{
		ID:          pipelineSerial.Add(1),
		Desc:        desc,
		ezDirection: ezDirectionFor(desc),
	}

	var code [3]*Variant
	for i, stage := range []ShaderStage{StageVertexBin, StageVertex, StageFragment} {
		v, err := d.compileVariant(VariantKey{Pipeline: p.ID, Stage: stage})
		if err != nil {
			return nil, err
		}
		code[i] = v
	}
	p.CoordUniforms = code[0].Uniforms
	p.VertexUniforms = code[1].Uniforms
	p.FragmentUniforms = code[2].Uniforms

	size := uint32(0)
	offsets := [3]uint32{}
	for i, v := range code {
		offsets[i] = size
		size += alignUp(uint32(len(v.Code)), 8)
	}
	if size == 0 {
		size = 8
	}
	asm, err := d.alloc.Alloc(size)
	if err != nil {
		return nil, ErrOutOfDeviceMemory
	}
	if err := d.alloc.Map(asm); err != nil {
		d.alloc.Free(asm)
		return nil, ErrOutOfDeviceMemory
	}
	for i, v := range code {
		copy(asm.Map[offsets[i]:], v.Code)
	}
	p.Assembly = asm
	p.CoordOffset = offsets[0]
	p.VertexOffset = offsets[1]
	p.FragmentOffset = offsets[2]
	return p, nil
}

// DestroyPipeline releases the pipeline's assembly BO.
func (d *Device) DestroyPipeline(p *Pipeline) {
	if p.Assembly != nil {
		d.alloc.Free(p.Assembly)
		p.Assembly = nil
	}
}

// ezDirectionFor derives the early-Z compatibility of a pipeline. The
// depth compare function fixes the direction; stencil testing disables
// early-Z outright because stencil updates can happen on depth fail.
func ezDirectionFor(desc PipelineDesc) EZDirection {
	if !desc.DepthTestEnable {
		return EZDirectionUndecided
	}
	dir := EZDirectionUndecided
	switch desc.DepthCompare {
	case gputypes.CompareFunctionLess, gputypes.CompareFunctionLessEqual:
		dir = EZDirectionLTLE
	case gputypes.CompareFunctionGreater, gputypes.CompareFunctionGreaterEqual:
		dir = EZDirectionGTGE
	case gputypes.CompareFunctionNever, gputypes.CompareFunctionEqual:
		dir = EZDirectionUndecided
	default:
		dir = EZDirectionDisabled
	}
	if desc.StencilTestEnable {
		dir = EZDirectionDisabled
	}
	return dir
}

// depthCompareFunc maps the API compare function to the hardware
// encoding.
func depthCompareFunc(f gputypes.CompareFunction) cl.CompareFunc {
	switch f {
	case gputypes.CompareFunctionNever:
		return cl.CompareNever
	case gputypes.CompareFunctionLess:
		return cl.CompareLess
	case gputypes.CompareFunctionEqual:
		return cl.CompareEqual
	case gputypes.CompareFunctionLessEqual:
		return cl.CompareLEqual
	case gputypes.CompareFunctionGreater:
		return cl.CompareGreater
	case gputypes.CompareFunctionNotEqual:
		return cl.CompareNotEqual
	case gputypes.CompareFunctionGreaterEqual:
		return cl.CompareGEqual
	default:
		return cl.CompareAlways
	}
}

// primMode maps the API topology to the hardware primitive mode.
func primMode(t gputypes.PrimitiveTopology) cl.PrimMode {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return cl.PrimPoints
	case gputypes.PrimitiveTopologyLineList:
		return cl.PrimLines
	case gputypes.PrimitiveTopologyLineStrip:
		return cl.PrimLineStrip
	case gputypes.PrimitiveTopologyTriangleStrip:
		return cl.PrimTriangleStrip
	default:
		return cl.PrimTriangles
	}
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
