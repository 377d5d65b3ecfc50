package v3d

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/v3d/bo"
)

// TilingMode is the memory layout of an image slice.
type TilingMode uint8

const (
	TilingRaster TilingMode = iota
	TilingLinearTile
	TilingUBLinear1
	TilingUBLinear2
	TilingUIFNoXOR
	TilingUIFXOR
)

// uifBlockHeight is the height in pixels of one UIF block column for
// 4-byte-per-pixel formats. Slice padding is expressed in these units.
const uifBlockHeight = 8

// Slice describes one mip level of an image: where it lives inside the
// image BO and how it is tiled.
type Slice struct {
	Offset uint32
	Stride uint32

	Width  uint32
	Height uint32

	// PaddedHeight is Height rounded up to the UIF block granularity
	// for UIF-tiled slices, equal to Height otherwise. Tile buffer
	// stores address rows of padded height.
	PaddedHeight uint32

	Tiling TilingMode
}

// Image is a device texture: a BO plus per-level slice layout. Layers
// are stored back to back with a constant stride.
type Image struct {
	Format  gputypes.TextureFormat
	Extent  gputypes.Extent3D
	Levels  uint32
	Samples uint32

	BO     *bo.BO
	Slices []Slice

	// CubeMapStride is the byte distance between consecutive array
	// layers (the hardware name survives from the cube-map case).
	CubeMapStride uint32
}

// LayerOffset returns the byte offset of (level, layer) from the start
// of the image BO.
func (img *Image) LayerOffset(level, layer uint32) uint32 {
	return img.Slices[level].Offset + layer*img.CubeMapStride
}

// ImageView selects a level and layer range of an image, possibly
// reinterpreting its format. The hardware-facing fields are resolved
// at view creation so per-draw and per-tile emission never consult the
// format table.
type ImageView struct {
	Image *Image

	Format gputypes.TextureFormat

	BaseLevel  uint32
	FirstLayer uint32
	LastLayer  uint32

	// Resolved hardware description of Format.
	InternalType uint8
	InternalBPP  uint8
	RTFormat     uint8
	SwapRB       bool
	HasDepth     bool
	HasStencil   bool
}

// NewImageView creates a view of one mip level and a layer range.
func NewImageView(img *Image, format gputypes.TextureFormat, baseLevel, firstLayer, lastLayer uint32) *ImageView {
	fi := lookupFormat(format)
	return &ImageView{
		Image:        img,
		Format:       format,
		BaseLevel:    baseLevel,
		FirstLayer:   firstLayer,
		LastLayer:    lastLayer,
		InternalType: fi.internalType,
		InternalBPP:  fi.internalBPP,
		RTFormat:     fi.rtFormat,
		SwapRB:       fi.swapRB,
		HasDepth:     fi.depth,
		HasStencil:   fi.stencil,
	}
}

// slice returns the slice layout of the view's level.
func (v *ImageView) slice() *Slice {
	return &v.Image.Slices[v.BaseLevel]
}

// layerAddress returns the GPU address of one layer of the view.
func (v *ImageView) layerAddress(layer uint32) (*bo.BO, uint32) {
	return v.Image.BO, v.Image.LayerOffset(v.BaseLevel, v.FirstLayer+layer)
}

// memoryFormat maps the slice tiling to the load/store packet memory
// format field.
func (v *ImageView) memoryFormat() uint8 {
	switch v.slice().Tiling {
	case TilingRaster:
		return 0
	case TilingLinearTile:
		return 1
	case TilingUBLinear1:
		return 2
	case TilingUBLinear2:
		return 3
	case TilingUIFNoXOR:
		return 4
	default:
		return 5
	}
}

// Framebuffer binds image views to render pass attachment slots.
type Framebuffer struct {
	Width  uint32
	Height uint32
	Layers uint32

	Attachments []*ImageView

	// ColorAttachmentCount is the number of non-depth/stencil entries
	// in Attachments, counted once at creation.
	ColorAttachmentCount uint32
}

// NewFramebuffer creates a framebuffer over the given views.
func NewFramebuffer(width, height, layers uint32, attachments []*ImageView) *Framebuffer {
	fb := &Framebuffer{
		Width:       width,
		Height:      height,
		Layers:      layers,
		Attachments: append([]*ImageView(nil), attachments...),
	}
	for _, v := range attachments {
		if v != nil && !v.HasDepth && !v.HasStencil {
			fb.ColorAttachmentCount++
		}
	}
	return fb
}
