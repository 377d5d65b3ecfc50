package v3d

// tileSizes is the hardware tile-size table. The index is a tier sum:
// render-target count and internal bpp each step down the table, every
// step halving one tile dimension.
var tileSizes = [5][2]uint32{
	{64, 64},
	{64, 32},
	{32, 32},
	{32, 16},
	{16, 16},
}

// tileSize returns the tile dimensions for a subpass with colorCount
// render targets of at most maxBPP internal depth.
func tileSize(colorCount int, maxBPP uint8, msaa bool) (w, h uint32) {
	idx := 0
	if colorCount > 2 {
		idx += 2
	} else if colorCount > 1 {
		idx++
	}
	if msaa {
		idx += 2
	}
	idx += int(maxBPP)
	if idx >= len(tileSizes) {
		idx = len(tileSizes) - 1
	}
	return tileSizes[idx][0], tileSizes[idx][1]
}

// FrameTiling is the geometry of one tiled frame: tile size, tile grid
// and supertile grouping. It is computed once per job at frame start
// and never changes while the job is open.
type FrameTiling struct {
	Width  uint32
	Height uint32
	Layers uint32

	RenderTargets uint32
	InternalBPP   uint8
	MSAA          bool
	DoubleBuffer  bool

	TileWidth  uint32
	TileHeight uint32

	DrawTilesX uint32
	DrawTilesY uint32

	// Supertile dimensions in tiles, and the frame size in supertiles.
	// The product of the frame supertile counts is kept below 256 so
	// the supertile coordinate stream stays bounded.
	SupertileWidth  uint32
	SupertileHeight uint32

	FrameWidthInSupertiles  uint32
	FrameHeightInSupertiles uint32
}

// ComputeFrameTiling computes the tiling geometry for a frame. It is a
// pure function with no failure path: supertile growth always
// converges because it is bounded by the finite tile counts.
func ComputeFrameTiling(width, height, layers, renderTargets uint32, maxInternalBPP uint8, msaa bool) FrameTiling {
	if renderTargets == 0 {
		renderTargets = 1
	}
	tw, th := tileSize(int(renderTargets), maxInternalBPP, msaa)

	t := FrameTiling{
		Width:         width,
		Height:        height,
		Layers:        layers,
		RenderTargets: renderTargets,
		InternalBPP:   maxInternalBPP,
		MSAA:          msaa,
		TileWidth:     tw,
		TileHeight:    th,
		DrawTilesX:    divRoundUp(width, tw),
		DrawTilesY:    divRoundUp(height, th),
	}

	t.SupertileWidth = 1
	t.SupertileHeight = 1
	for {
		t.FrameWidthInSupertiles = divRoundUp(t.DrawTilesX, t.SupertileWidth)
		t.FrameHeightInSupertiles = divRoundUp(t.DrawTilesY, t.SupertileHeight)
		if t.FrameWidthInSupertiles*t.FrameHeightInSupertiles < maxSupertiles {
			break
		}
		// Grow the currently smaller dimension to keep supertiles
		// close to square.
		if t.SupertileWidth < t.SupertileHeight {
			t.SupertileWidth++
		} else {
			t.SupertileHeight++
		}
	}
	return t
}

// maxSupertiles bounds the supertile coordinate stream per layer.
const maxSupertiles = 256

const (
	tileStateBytesPerTile = 256
	tileAllocBytesPerTile = 64
	tileAllocSlack        = 4064
	tileAllocMinSize      = 4096
)

// TileStateSize returns the size of the tile state data array the
// binner writes, for all layers.
func (t *FrameTiling) TileStateSize() uint32 {
	return t.Layers * t.DrawTilesX * t.DrawTilesY * tileStateBytesPerTile
}

// TileAllocSize returns the size of the initial tile allocation buffer
// handed to the binner.
func (t *FrameTiling) TileAllocSize() uint32 {
	size := t.Layers*t.DrawTilesX*t.DrawTilesY*tileAllocBytesPerTile + tileAllocSlack
	if size < tileAllocMinSize {
		size = tileAllocMinSize
	}
	return size
}

// TileAligned reports whether the rectangle (x, y, w, h) covers whole
// tiles of this frame, i.e. starts on a tile boundary and ends either
// on a tile boundary or at the frame edge.
func (t *FrameTiling) TileAligned(x, y, w, h uint32) bool {
	if x%t.TileWidth != 0 || y%t.TileHeight != 0 {
		return false
	}
	if (x+w)%t.TileWidth != 0 && x+w != t.Width {
		return false
	}
	if (y+h)%t.TileHeight != 0 && y+h != t.Height {
		return false
	}
	return true
}

func divRoundUp(n, d uint32) uint32 {
	return (n + d - 1) / d
}
