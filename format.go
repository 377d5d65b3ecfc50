package v3d

import (
	"math"

	"github.com/gogpu/gputypes"
)

// Tile-buffer internal depths. The internal bpp of the widest render
// target in a subpass drives the tile size selection.
const (
	InternalBPP32 = iota
	InternalBPP64
	InternalBPP128
)

// Tile-buffer internal types.
const (
	InternalType8I = iota
	InternalType8UI
	InternalType8
	InternalType16I
	InternalType16UI
	InternalType16F
	InternalType32I
	InternalType32UI
	InternalType32F
	InternalTypeDepth24
	InternalTypeDepth32F
	InternalTypeDepth16
)

// formatInfo is the hardware view of a texture format.
type formatInfo struct {
	// rtFormat is the output image format code used by tile buffer
	// loads and stores.
	rtFormat uint8

	internalType uint8
	internalBPP  uint8

	// cpp is bytes per pixel in memory.
	cpp uint32

	depth   bool
	stencil bool
	swapRB  bool
}

// formatTable covers the formats the command-list compiler needs to
// reason about. Anything else is the format layer's problem and never
// reaches this package.
var formatTable = map[gputypes.TextureFormat]formatInfo{
	gputypes.TextureFormatR8Unorm: {
		rtFormat: 1, internalType: InternalType8, internalBPP: InternalBPP32, cpp: 1,
	},
	gputypes.TextureFormatRGBA8Unorm: {
		rtFormat: 4, internalType: InternalType8, internalBPP: InternalBPP32, cpp: 4,
	},
	gputypes.TextureFormatBGRA8Unorm: {
		rtFormat: 4, internalType: InternalType8, internalBPP: InternalBPP32, cpp: 4, swapRB: true,
	},
	gputypes.TextureFormatR16Uint: {
		rtFormat: 10, internalType: InternalType16UI, internalBPP: InternalBPP32, cpp: 2,
	},
	gputypes.TextureFormatR32Uint: {
		rtFormat: 14, internalType: InternalType32UI, internalBPP: InternalBPP32, cpp: 4,
	},
	gputypes.TextureFormatR32Float: {
		rtFormat: 15, internalType: InternalType32F, internalBPP: InternalBPP32, cpp: 4,
	},
	gputypes.TextureFormatRGBA16Float: {
		rtFormat: 22, internalType: InternalType16F, internalBPP: InternalBPP64, cpp: 8,
	},
	gputypes.TextureFormatRGBA32Float: {
		rtFormat: 25, internalType: InternalType32F, internalBPP: InternalBPP128, cpp: 16,
	},
	gputypes.TextureFormatDepth16Unorm: {
		rtFormat: 30, internalType: InternalTypeDepth16, internalBPP: InternalBPP32, cpp: 2,
		depth: true,
	},
	gputypes.TextureFormatDepth32Float: {
		rtFormat: 31, internalType: InternalTypeDepth32F, internalBPP: InternalBPP32, cpp: 4,
		depth: true,
	},
	gputypes.TextureFormatDepth24Plus: {
		rtFormat: 32, internalType: InternalTypeDepth24, internalBPP: InternalBPP32, cpp: 4,
		depth: true,
	},
	gputypes.TextureFormatDepth24PlusStencil8: {
		rtFormat: 32, internalType: InternalTypeDepth24, internalBPP: InternalBPP32, cpp: 4,
		depth: true, stencil: true,
	},
}

// lookupFormat returns the hardware description of format. Unknown
// formats fall back to a 32bpp 8-bit view, which keeps tiling
// decisions conservative.
func lookupFormat(format gputypes.TextureFormat) formatInfo {
	if fi, ok := formatTable[format]; ok {
		return fi
	}
	return formatInfo{internalType: InternalType8, internalBPP: InternalBPP32, cpp: 4}
}

// isDepthOrStencil reports whether format has a depth or stencil
// aspect.
func isDepthOrStencil(format gputypes.TextureFormat) bool {
	fi := lookupFormat(format)
	return fi.depth || fi.stencil
}

// colorFormatForDepthStencil returns the same-bit-width color format
// used to clear a depth/stencil attachment through the color path.
func colorFormatForDepthStencil(format gputypes.TextureFormat) gputypes.TextureFormat {
	switch format {
	case gputypes.TextureFormatDepth16Unorm:
		return gputypes.TextureFormatR16Uint
	case gputypes.TextureFormatDepth32Float:
		return gputypes.TextureFormatR32Float
	case gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8:
		return gputypes.TextureFormatR32Uint
	default:
		panic("v3d: not a depth/stencil format")
	}
}

// packDepthStencil packs a depth/stencil clear value into the 32-bit
// word stored through the color path. The 24-bit depth formats keep
// stencil in the top byte, so the packed value is rotated to match the
// tile buffer layout.
func packDepthStencil(format gputypes.TextureFormat, depth float32, stencil uint8) uint32 {
	switch format {
	case gputypes.TextureFormatDepth16Unorm:
		return uint32(depth*0xffff + 0.5)
	case gputypes.TextureFormatDepth32Float:
		return f32bits(depth)
	case gputypes.TextureFormatDepth24Plus, gputypes.TextureFormatDepth24PlusStencil8:
		// Scale in float64 and clamp: depth 1.0 must saturate the
		// 24-bit field, not carry into bit 24.
		d := uint32(min(float64(depth)*0xffffff+0.5, 0xffffff))
		zs := d<<8 | uint32(stencil)
		return zs<<8 | zs>>24
	default:
		panic("v3d: not a depth/stencil format")
	}
}

// hwClearColor converts an API clear color to the tile buffer's
// internal representation: four 32-bit words whose live bits depend on
// the internal type and size.
func hwClearColor(c gputypes.Color, internalType uint8, internalBPP uint8) [4]uint32 {
	var out [4]uint32
	switch internalType {
	case InternalType8, InternalType8I, InternalType8UI:
		r := uint32(clamp01(c.R)*255 + 0.5)
		g := uint32(clamp01(c.G)*255 + 0.5)
		b := uint32(clamp01(c.B)*255 + 0.5)
		a := uint32(clamp01(c.A)*255 + 0.5)
		out[0] = r | g<<8 | b<<16 | a<<24
	case InternalType16F, InternalType16I, InternalType16UI:
		out[0] = uint32(f16bits(float32(c.R))) | uint32(f16bits(float32(c.G)))<<16
		out[1] = uint32(f16bits(float32(c.B))) | uint32(f16bits(float32(c.A)))<<16
	default:
		out[0] = f32bits(float32(c.R))
		out[1] = f32bits(float32(c.G))
		out[2] = f32bits(float32(c.B))
		out[3] = f32bits(float32(c.A))
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func f32bits(v float32) uint32 { return math.Float32bits(v) }

// f16bits converts v to IEEE 754 half precision, rounding to nearest
// even. Out-of-range values saturate to infinity.
func f16bits(v float32) uint16 {
	b := math.Float32bits(v)
	sign := uint16(b >> 16 & 0x8000)
	exp := int32(b>>23&0xff) - 127
	mant := b & 0x7fffff

	switch {
	case exp == 128: // Inf or NaN
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp > 15:
		return sign | 0x7c00
	case exp >= -14:
		h := sign | uint16(exp+15)<<10 | uint16(mant>>13)
		// round to nearest even
		if mant&0x1000 != 0 && (mant&0xfff != 0 || mant&0x2000 != 0) {
			h++
		}
		return h
	case exp >= -24:
		mant |= 0x800000
		shift := uint32(-exp - 1) // 13 + (-14 - exp)
		h := sign | uint16(mant>>shift)
		if mant>>(shift-1)&1 != 0 {
			h++
		}
		return h
	default:
		return sign
	}
}
