package v3d

import "testing"

func TestTileSizeTiers(t *testing.T) {
	tests := []struct {
		name   string
		colors int
		maxBPP uint8
		msaa   bool
		wantW  uint32
		wantH  uint32
	}{
		{"one 32bpp target", 1, InternalBPP32, false, 64, 64},
		{"two targets", 2, InternalBPP32, false, 64, 32},
		{"three targets", 3, InternalBPP32, false, 32, 32},
		{"one 64bpp target", 1, InternalBPP64, false, 64, 32},
		{"one 128bpp target", 1, InternalBPP128, false, 32, 32},
		{"msaa", 1, InternalBPP32, true, 32, 32},
		{"msaa wide", 1, InternalBPP64, true, 32, 16},
		{"clamped at table end", 4, InternalBPP128, true, 16, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := tileSize(tt.colors, tt.maxBPP, tt.msaa)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("tileSize(%d, %d, %v) = %dx%d, want %dx%d",
					tt.colors, tt.maxBPP, tt.msaa, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestComputeFrameTilingCoversFrame(t *testing.T) {
	dims := []uint32{1, 16, 33, 64, 255, 1024, 1920, 4096}
	for _, w := range dims {
		for _, h := range dims {
			ft := ComputeFrameTiling(w, h, 1, 1, InternalBPP32, false)
			if ft.DrawTilesX*ft.TileWidth < w || ft.DrawTilesY*ft.TileHeight < h {
				t.Errorf("%dx%d: tile grid %dx%d of %dx%d tiles does not cover frame",
					w, h, ft.DrawTilesX, ft.DrawTilesY, ft.TileWidth, ft.TileHeight)
			}
			n := ft.FrameWidthInSupertiles * ft.FrameHeightInSupertiles
			if n >= maxSupertiles {
				t.Errorf("%dx%d: %d supertiles, want < %d", w, h, n, maxSupertiles)
			}
			if ft.SupertileWidth*ft.FrameWidthInSupertiles < ft.DrawTilesX ||
				ft.SupertileHeight*ft.FrameHeightInSupertiles < ft.DrawTilesY {
				t.Errorf("%dx%d: supertile grid does not cover the tile grid", w, h)
			}
		}
	}
}

func TestComputeFrameTilingSmallFrameSingleSupertile(t *testing.T) {
	ft := ComputeFrameTiling(64, 64, 1, 1, InternalBPP32, false)
	if ft.SupertileWidth != 1 || ft.SupertileHeight != 1 {
		t.Errorf("supertile = %dx%d tiles, want 1x1", ft.SupertileWidth, ft.SupertileHeight)
	}
	if ft.DrawTilesX != 1 || ft.DrawTilesY != 1 {
		t.Errorf("tiles = %dx%d, want 1x1", ft.DrawTilesX, ft.DrawTilesY)
	}
}

func TestTileBufferSizes(t *testing.T) {
	ft := ComputeFrameTiling(128, 128, 1, 1, InternalBPP32, false)
	// 2x2 tiles of 64x64.
	if got := ft.TileStateSize(); got != 4*tileStateBytesPerTile {
		t.Errorf("TileStateSize = %d, want %d", got, 4*tileStateBytesPerTile)
	}
	if got := ft.TileAllocSize(); got != 4*tileAllocBytesPerTile+tileAllocSlack {
		t.Errorf("TileAllocSize = %d, want %d", got, 4*tileAllocBytesPerTile+tileAllocSlack)
	}

	// A single tile still gets the minimum allocation.
	small := ComputeFrameTiling(8, 8, 1, 1, InternalBPP32, false)
	if got := small.TileAllocSize(); got < tileAllocMinSize {
		t.Errorf("TileAllocSize = %d, want at least %d", got, tileAllocMinSize)
	}

	layered := ComputeFrameTiling(128, 128, 4, 1, InternalBPP32, false)
	if got := layered.TileStateSize(); got != 4*4*tileStateBytesPerTile {
		t.Errorf("layered TileStateSize = %d, want %d", got, 4*4*tileStateBytesPerTile)
	}
}

func TestTileAligned(t *testing.T) {
	ft := ComputeFrameTiling(100, 100, 1, 1, InternalBPP32, false) // 64x64 tiles
	tests := []struct {
		name       string
		x, y, w, h uint32
		want       bool
	}{
		{"full frame", 0, 0, 100, 100, true},
		{"whole tile", 0, 0, 64, 64, true},
		{"to frame edge", 64, 64, 36, 36, true},
		{"unaligned origin", 1, 0, 64, 64, false},
		{"unaligned extent", 0, 0, 63, 64, false},
		{"interior end off boundary", 0, 0, 65, 64, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ft.TileAligned(tt.x, tt.y, tt.w, tt.h); got != tt.want {
				t.Errorf("TileAligned(%d,%d,%d,%d) = %v, want %v",
					tt.x, tt.y, tt.w, tt.h, got, tt.want)
			}
		})
	}
}
