package v3d

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/cl"
)

func TestEZDirectionFromDepthCompare(t *testing.T) {
	tests := []struct {
		name string
		desc PipelineDesc
		want EZDirection
	}{
		{"depth test off", PipelineDesc{}, EZDirectionUndecided},
		{
			"less",
			PipelineDesc{DepthTestEnable: true, DepthCompare: gputypes.CompareFunctionLess},
			EZDirectionLTLE,
		},
		{
			"less equal",
			PipelineDesc{DepthTestEnable: true, DepthCompare: gputypes.CompareFunctionLessEqual},
			EZDirectionLTLE,
		},
		{
			"greater",
			PipelineDesc{DepthTestEnable: true, DepthCompare: gputypes.CompareFunctionGreater},
			EZDirectionGTGE,
		},
		{
			"greater equal",
			PipelineDesc{DepthTestEnable: true, DepthCompare: gputypes.CompareFunctionGreaterEqual},
			EZDirectionGTGE,
		},
		{
			"equal is direction free",
			PipelineDesc{DepthTestEnable: true, DepthCompare: gputypes.CompareFunctionEqual},
			EZDirectionUndecided,
		},
		{
			"always disables",
			PipelineDesc{DepthTestEnable: true, DepthCompare: gputypes.CompareFunctionAlways},
			EZDirectionDisabled,
		},
		{
			"stencil test disables",
			PipelineDesc{
				DepthTestEnable: true, DepthCompare: gputypes.CompareFunctionLess,
				StencilTestEnable: true,
			},
			EZDirectionDisabled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ezDirectionFor(tt.desc); got != tt.want {
				t.Errorf("ezDirectionFor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewPipelineUploadsStages(t *testing.T) {
	d, _ := newTestDevice(t)
	p := testPipeline(t, d)
	defer d.DestroyPipeline(p)

	if p.Assembly == nil || !p.Assembly.Mapped() {
		t.Fatal("pipeline assembly not uploaded")
	}
	offsets := []uint32{p.CoordOffset, p.VertexOffset, p.FragmentOffset}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Errorf("stage offsets not ascending: %v", offsets)
		}
	}
	// The stub's code must be present at each stage offset.
	for _, off := range offsets {
		if p.Assembly.Map[off] != 0x10 {
			t.Errorf("assembly at %d = %#x, want the stage code", off, p.Assembly.Map[off])
		}
	}
	if p.ezDirection != EZDirectionUndecided {
		t.Errorf("ezDirection = %d, want undecided with depth test off", p.ezDirection)
	}
}

func TestPrimModeMapping(t *testing.T) {
	tests := []struct {
		in   gputypes.PrimitiveTopology
		want cl.PrimMode
	}{
		{gputypes.PrimitiveTopologyPointList, cl.PrimPoints},
		{gputypes.PrimitiveTopologyLineList, cl.PrimLines},
		{gputypes.PrimitiveTopologyLineStrip, cl.PrimLineStrip},
		{gputypes.PrimitiveTopologyTriangleList, cl.PrimTriangles},
		{gputypes.PrimitiveTopologyTriangleStrip, cl.PrimTriangleStrip},
	}
	for _, tt := range tests {
		if got := primMode(tt.in); got != tt.want {
			t.Errorf("primMode(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDepthCompareFuncMapping(t *testing.T) {
	if got := depthCompareFunc(gputypes.CompareFunctionLessEqual); got != cl.CompareLEqual {
		t.Errorf("less-equal = %v", got)
	}
	if got := depthCompareFunc(gputypes.CompareFunctionNotEqual); got != cl.CompareNotEqual {
		t.Errorf("not-equal = %v", got)
	}
	if got := depthCompareFunc(gputypes.CompareFunctionAlways); got != cl.CompareAlways {
		t.Errorf("always = %v", got)
	}
}
