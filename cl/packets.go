package cl

import (
	"encoding/binary"
	"fmt"
)

// Opcode is the first byte of every control-list packet.
//
// The values and payload layouts follow the V3D 4.2 control-list ISA.
// Payloads are little-endian and fixed-size per opcode; the hardware
// rejects nothing, so the encodings here must be reproduced exactly.
type Opcode uint8

const (
	OpHalt                Opcode = 0
	OpNop                 Opcode = 1
	OpFlush               Opcode = 4
	OpFlushAllState       Opcode = 5
	OpStartTileBinning    Opcode = 6
	OpIncrementSemaphore  Opcode = 7
	OpWaitOnSemaphore     Opcode = 8
	OpEndOfRendering      Opcode = 13
	OpBranch              Opcode = 16
	OpBranchToSubList     Opcode = 17
	OpReturnFromSubList   Opcode = 18
	OpFlushVCDCache       Opcode = 19
	OpStartAddrOfGenericTileList Opcode = 20
	OpBranchToImplicitTileList   Opcode = 21
	OpBranchToExplicitSupertile  Opcode = 22
	OpSupertileCoordinates       Opcode = 23
	OpClearTileBuffers           Opcode = 25
	OpEndOfLoads                 Opcode = 26
	OpEndOfTileMarker            Opcode = 27
	OpStoreTileBufferGeneral     Opcode = 29
	OpLoadTileBufferGeneral      Opcode = 30
	OpIndexedPrimList            Opcode = 32
	OpIndexedInstancedPrimList   Opcode = 34
	OpVertexArrayPrims           Opcode = 36
	OpVertexArrayInstancedPrims  Opcode = 38
	OpBaseVertexBaseInstance     Opcode = 43
	OpIndexBufferSetup           Opcode = 44
	OpPrimListFormat             Opcode = 56
	OpGLShaderState              Opcode = 64
	OpStencilCfg                 Opcode = 80
	OpBlendEnables               Opcode = 81
	OpBlendCfg                   Opcode = 84
	OpBlendConstantColor         Opcode = 86
	OpColorWriteMasks            Opcode = 87
	OpOcclusionQueryCounter      Opcode = 92
	OpCfgBits                    Opcode = 96
	OpPointSize                  Opcode = 104
	OpLineWidth                  Opcode = 105
	OpClipWindow                 Opcode = 107
	OpViewportOffset             Opcode = 108
	OpClipperXYScaling           Opcode = 109
	OpClipperZScaleAndOffset     Opcode = 110
	OpDepthOffset                Opcode = 112
	OpNumberOfLayers             Opcode = 119
	OpTileBinningModeCfg         Opcode = 120
	OpTileRenderingModeCfg       Opcode = 121
	OpMulticoreRenderingSupertileCfg   Opcode = 122
	OpMulticoreRenderingTileListSetBase Opcode = 123
	OpTileCoordinates            Opcode = 124
	OpTileCoordinatesImplicit    Opcode = 125
	OpTileListInitialBlockSize   Opcode = 126
)

// opcodeInfo drives reservations and the decoder.
type opcodeInfo struct {
	name       string
	payloadLen int
}

var opcodeTable = map[Opcode]opcodeInfo{
	OpHalt:                {"HALT", 0},
	OpNop:                 {"NOP", 0},
	OpFlush:               {"FLUSH", 0},
	OpFlushAllState:       {"FLUSH_ALL_STATE", 0},
	OpStartTileBinning:    {"START_TILE_BINNING", 0},
	OpIncrementSemaphore:  {"INCREMENT_SEMAPHORE", 0},
	OpWaitOnSemaphore:     {"WAIT_ON_SEMAPHORE", 0},
	OpEndOfRendering:      {"END_OF_RENDERING", 0},
	OpBranch:              {"BRANCH", 4},
	OpBranchToSubList:     {"BRANCH_TO_SUB_LIST", 4},
	OpReturnFromSubList:   {"RETURN_FROM_SUB_LIST", 0},
	OpFlushVCDCache:       {"FLUSH_VCD_CACHE", 0},
	OpStartAddrOfGenericTileList: {"START_ADDRESS_OF_GENERIC_TILE_LIST", 8},
	OpBranchToImplicitTileList:   {"BRANCH_TO_IMPLICIT_TILE_LIST", 1},
	OpBranchToExplicitSupertile:  {"BRANCH_TO_EXPLICIT_SUPERTILE", 7},
	OpSupertileCoordinates:       {"SUPERTILE_COORDINATES", 2},
	OpClearTileBuffers:           {"CLEAR_TILE_BUFFERS", 1},
	OpEndOfLoads:                 {"END_OF_LOADS", 0},
	OpEndOfTileMarker:            {"END_OF_TILE_MARKER", 0},
	OpStoreTileBufferGeneral:     {"STORE_TILE_BUFFER_GENERAL", 11},
	OpLoadTileBufferGeneral:      {"LOAD_TILE_BUFFER_GENERAL", 11},
	OpIndexedPrimList:            {"INDEXED_PRIM_LIST", 10},
	OpIndexedInstancedPrimList:   {"INDEXED_INSTANCED_PRIM_LIST", 14},
	OpVertexArrayPrims:           {"VERTEX_ARRAY_PRIMS", 9},
	OpVertexArrayInstancedPrims:  {"VERTEX_ARRAY_INSTANCED_PRIMS", 13},
	OpBaseVertexBaseInstance:     {"BASE_VERTEX_BASE_INSTANCE", 8},
	OpIndexBufferSetup:           {"INDEX_BUFFER_SETUP", 8},
	OpPrimListFormat:             {"PRIM_LIST_FORMAT", 1},
	OpGLShaderState:              {"GL_SHADER_STATE", 4},
	OpStencilCfg:                 {"STENCIL_CFG", 8},
	OpBlendEnables:               {"BLEND_ENABLES", 1},
	OpBlendCfg:                   {"BLEND_CFG", 5},
	OpBlendConstantColor:         {"BLEND_CONSTANT_COLOR", 8},
	OpColorWriteMasks:            {"COLOR_WRITE_MASKS", 4},
	OpOcclusionQueryCounter:      {"OCCLUSION_QUERY_COUNTER", 4},
	OpCfgBits:                    {"CFG_BITS", 3},
	OpPointSize:                  {"POINT_SIZE", 4},
	OpLineWidth:                  {"LINE_WIDTH", 4},
	OpClipWindow:                 {"CLIP_WINDOW", 8},
	OpViewportOffset:             {"VIEWPORT_OFFSET", 8},
	OpClipperXYScaling:           {"CLIPPER_XY_SCALING", 8},
	OpClipperZScaleAndOffset:     {"CLIPPER_Z_SCALE_AND_OFFSET", 8},
	OpDepthOffset:                {"DEPTH_OFFSET", 8},
	OpNumberOfLayers:             {"NUMBER_OF_LAYERS", 1},
	OpTileBinningModeCfg:         {"TILE_BINNING_MODE_CFG", 17},
	OpTileRenderingModeCfg:       {"TILE_RENDERING_MODE_CFG", 10},
	OpMulticoreRenderingSupertileCfg:    {"MULTICORE_RENDERING_SUPERTILE_CFG", 10},
	OpMulticoreRenderingTileListSetBase: {"MULTICORE_RENDERING_TILE_LIST_SET_BASE", 4},
	OpTileCoordinates:            {"TILE_COORDINATES", 4},
	OpTileCoordinatesImplicit:    {"TILE_COORDINATES_IMPLICIT", 0},
	OpTileListInitialBlockSize:   {"TILE_LIST_INITIAL_BLOCK_SIZE", 1},
}

// String returns the ISA mnemonic for the opcode.
func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(op))
}

// PacketLen returns the full encoded length (opcode byte included) of
// the fixed-size packet for op. Unknown opcodes panic.
func PacketLen(op Opcode) uint32 {
	info, ok := opcodeTable[op]
	if !ok {
		panic(fmt.Sprintf("cl: unknown opcode %d", op))
	}
	return uint32(1 + info.payloadLen)
}

// branchLen is the room every block keeps spare for the chaining branch.
const branchLen = 1 + 4

// encodeBranch writes a BRANCH packet at buf[offset:]. Used by the
// list itself when chaining blocks; ordinary callers emit Branch{}.
func encodeBranch(buf []byte, offset uint32, target Address) {
	buf[offset] = byte(OpBranch)
	binary.LittleEndian.PutUint32(buf[offset+1:], target.Absolute())
}

// Packet is a single control-list instruction.
type Packet interface {
	op() Opcode
	// encode writes the payload into b, which is exactly payloadLen
	// bytes long. Packets carrying Addresses register the referenced
	// BOs with the list's BO set through l.
	encode(l *List, b []byte)
}

// Emit appends the packet at the cursor and returns the address it was
// encoded at. Space must have been reserved beforehand.
func (l *List) Emit(p Packet) Address {
	op := p.op()
	n := PacketLen(op)
	if l.buf == nil || l.next+n > l.size {
		panic(fmt.Sprintf("cl: emit %s without reserved space", op))
	}
	at := l.Addr()
	l.base[l.next] = byte(op)
	payload := l.base[l.next+1 : l.next+n]
	for i := range payload {
		payload[i] = 0
	}
	p.encode(l, payload)
	l.next += n
	return at
}

// putAddr encodes a GPU address and registers its BO with the job.
func putAddr(l *List, b []byte, a Address) {
	l.addBO(a.BO)
	binary.LittleEndian.PutUint32(b, a.Absolute())
}

// ---------------------------------------------------------------------------
// Trivial packets
// ---------------------------------------------------------------------------

type Halt struct{}
type Nop struct{}
type Flush struct{}
type FlushAllState struct{}
type StartTileBinning struct{}
type IncrementSemaphore struct{}
type WaitOnSemaphore struct{}
type EndOfRendering struct{}
type ReturnFromSubList struct{}
type FlushVCDCache struct{}
type EndOfLoads struct{}
type EndOfTileMarker struct{}
type TileCoordinatesImplicit struct{}

func (Halt) op() Opcode                    { return OpHalt }
func (Nop) op() Opcode                     { return OpNop }
func (Flush) op() Opcode                   { return OpFlush }
func (FlushAllState) op() Opcode           { return OpFlushAllState }
func (StartTileBinning) op() Opcode        { return OpStartTileBinning }
func (IncrementSemaphore) op() Opcode      { return OpIncrementSemaphore }
func (WaitOnSemaphore) op() Opcode         { return OpWaitOnSemaphore }
func (EndOfRendering) op() Opcode          { return OpEndOfRendering }
func (ReturnFromSubList) op() Opcode       { return OpReturnFromSubList }
func (FlushVCDCache) op() Opcode           { return OpFlushVCDCache }
func (EndOfLoads) op() Opcode              { return OpEndOfLoads }
func (EndOfTileMarker) op() Opcode         { return OpEndOfTileMarker }
func (TileCoordinatesImplicit) op() Opcode { return OpTileCoordinatesImplicit }

func (Halt) encode(*List, []byte)                    {}
func (Nop) encode(*List, []byte)                     {}
func (Flush) encode(*List, []byte)                   {}
func (FlushAllState) encode(*List, []byte)           {}
func (StartTileBinning) encode(*List, []byte)        {}
func (IncrementSemaphore) encode(*List, []byte)      {}
func (WaitOnSemaphore) encode(*List, []byte)         {}
func (EndOfRendering) encode(*List, []byte)          {}
func (ReturnFromSubList) encode(*List, []byte)       {}
func (FlushVCDCache) encode(*List, []byte)           {}
func (EndOfLoads) encode(*List, []byte)              {}
func (EndOfTileMarker) encode(*List, []byte)         {}
func (TileCoordinatesImplicit) encode(*List, []byte) {}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// Branch jumps execution to an absolute address.
type Branch struct{ Addr Address }

func (Branch) op() Opcode { return OpBranch }
func (p Branch) encode(l *List, b []byte) {
	putAddr(l, b, p.Addr)
}

// BranchToSubList calls into a sub-list; the hardware returns on
// RETURN_FROM_SUB_LIST.
type BranchToSubList struct{ Addr Address }

func (BranchToSubList) op() Opcode { return OpBranchToSubList }
func (p BranchToSubList) encode(l *List, b []byte) {
	putAddr(l, b, p.Addr)
}

// StartAddrOfGenericTileList sets the [start, end) range of the
// per-tile generic list executed for every tile.
type StartAddrOfGenericTileList struct {
	Start Address
	End   Address
}

func (StartAddrOfGenericTileList) op() Opcode { return OpStartAddrOfGenericTileList }
func (p StartAddrOfGenericTileList) encode(l *List, b []byte) {
	putAddr(l, b[0:], p.Start)
	putAddr(l, b[4:], p.End)
}

// BranchToImplicitTileList runs the binned tile list for the tile
// selected by the preceding coordinates packet.
type BranchToImplicitTileList struct{ TileListSet uint8 }

func (BranchToImplicitTileList) op() Opcode { return OpBranchToImplicitTileList }
func (p BranchToImplicitTileList) encode(_ *List, b []byte) {
	b[0] = p.TileListSet
}

// ---------------------------------------------------------------------------
// Tile buffer loads, stores and clears
// ---------------------------------------------------------------------------

// TileBuffer selects the buffer addressed by a load, store or clear.
type TileBuffer uint8

const (
	TileBufferRT0      TileBuffer = 0
	TileBufferRT1      TileBuffer = 1
	TileBufferRT2      TileBuffer = 2
	TileBufferRT3      TileBuffer = 3
	TileBufferNone     TileBuffer = 8
	TileBufferZ        TileBuffer = 9
	TileBufferStencil  TileBuffer = 10
	TileBufferZStencil TileBuffer = 11
)

// MemoryFormat is the in-memory tiling layout of an image slice.
type MemoryFormat uint8

const (
	MemoryFormatRaster MemoryFormat = iota
	MemoryFormatLinearTile
	MemoryFormatUBLinear1
	MemoryFormatUBLinear2
	MemoryFormatUIFNoXOR
	MemoryFormatUIFXOR
)

// DecimateMode selects how samples collapse on store.
type DecimateMode uint8

const (
	DecimateSample0    DecimateMode = 0
	Decimate4x         DecimateMode = 1
	Decimate16x        DecimateMode = 2
	DecimateAllSamples DecimateMode = 3
)

// StoreTileBufferGeneral writes one tile buffer out to memory.
//
// HeightInUBOrStride carries the padded height in UIF blocks for UIF
// layouts and the raster stride for raster layouts, as the hardware
// overloads the field.
type StoreTileBufferGeneral struct {
	Buffer             TileBuffer
	Addr               Address
	ClearBufferStored  bool
	OutputImageFormat  uint8
	RBSwap             bool
	MemFormat          MemoryFormat
	Decimate           DecimateMode
	HeightInUBOrStride uint32
}

func (StoreTileBufferGeneral) op() Opcode { return OpStoreTileBufferGeneral }
func (p StoreTileBufferGeneral) encode(l *List, b []byte) {
	b[0] = byte(p.Buffer)
	var flags uint8
	if p.ClearBufferStored {
		flags |= 1 << 0
	}
	if p.RBSwap {
		flags |= 1 << 1
	}
	flags |= uint8(p.MemFormat) << 2
	flags |= uint8(p.Decimate) << 5
	b[1] = flags
	b[2] = p.OutputImageFormat
	binary.LittleEndian.PutUint32(b[3:], p.HeightInUBOrStride)
	putAddr(l, b[7:], p.Addr)
}

// LoadTileBufferGeneral reads one tile buffer in from memory. The
// layout mirrors StoreTileBufferGeneral.
type LoadTileBufferGeneral struct {
	Buffer             TileBuffer
	Addr               Address
	InputImageFormat   uint8
	RBSwap             bool
	MemFormat          MemoryFormat
	Decimate           DecimateMode
	HeightInUBOrStride uint32
}

func (LoadTileBufferGeneral) op() Opcode { return OpLoadTileBufferGeneral }
func (p LoadTileBufferGeneral) encode(l *List, b []byte) {
	b[0] = byte(p.Buffer)
	var flags uint8
	if p.RBSwap {
		flags |= 1 << 1
	}
	flags |= uint8(p.MemFormat) << 2
	flags |= uint8(p.Decimate) << 5
	b[1] = flags
	b[2] = p.InputImageFormat
	binary.LittleEndian.PutUint32(b[3:], p.HeightInUBOrStride)
	putAddr(l, b[7:], p.Addr)
}

// ClearTileBuffers clears the whole tile buffer. There is no
// per-buffer variant for depth/stencil: clearing Z or stencil always
// goes through here (GFXH-1461).
type ClearTileBuffers struct {
	ClearZStencil         bool
	ClearAllRenderTargets bool
}

func (ClearTileBuffers) op() Opcode { return OpClearTileBuffers }
func (p ClearTileBuffers) encode(_ *List, b []byte) {
	if p.ClearZStencil {
		b[0] |= 1 << 0
	}
	if p.ClearAllRenderTargets {
		b[0] |= 1 << 1
	}
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

// PrimMode is the hardware primitive type.
type PrimMode uint8

const (
	PrimPoints        PrimMode = 0
	PrimLines         PrimMode = 1
	PrimLineLoop      PrimMode = 2
	PrimLineStrip     PrimMode = 3
	PrimTriangles     PrimMode = 4
	PrimTriangleStrip PrimMode = 5
	PrimTriangleFan   PrimMode = 6
)

// IndexType is the width of index buffer entries.
type IndexType uint8

const (
	Index8  IndexType = 0
	Index16 IndexType = 1
	Index32 IndexType = 2
)

// VertexArrayPrims is a non-indexed, non-instanced draw.
type VertexArrayPrims struct {
	Mode        PrimMode
	Length      uint32
	FirstVertex uint32
}

func (VertexArrayPrims) op() Opcode { return OpVertexArrayPrims }
func (p VertexArrayPrims) encode(_ *List, b []byte) {
	b[0] = byte(p.Mode)
	binary.LittleEndian.PutUint32(b[1:], p.Length)
	binary.LittleEndian.PutUint32(b[5:], p.FirstVertex)
}

// VertexArrayInstancedPrims is a non-indexed, instanced draw.
type VertexArrayInstancedPrims struct {
	Mode           PrimMode
	InstanceLength uint32
	Instances      uint32
	FirstVertex    uint32
}

func (VertexArrayInstancedPrims) op() Opcode { return OpVertexArrayInstancedPrims }
func (p VertexArrayInstancedPrims) encode(_ *List, b []byte) {
	b[0] = byte(p.Mode)
	binary.LittleEndian.PutUint32(b[1:], p.InstanceLength)
	binary.LittleEndian.PutUint32(b[5:], p.Instances)
	binary.LittleEndian.PutUint32(b[9:], p.FirstVertex)
}

// IndexedPrimList is an indexed, non-instanced draw.
type IndexedPrimList struct {
	Mode        PrimMode
	IndexType   IndexType
	Length      uint32
	IndexOffset uint32
}

func (IndexedPrimList) op() Opcode { return OpIndexedPrimList }
func (p IndexedPrimList) encode(_ *List, b []byte) {
	b[0] = byte(p.Mode)
	b[1] = byte(p.IndexType)
	binary.LittleEndian.PutUint32(b[2:], p.Length)
	binary.LittleEndian.PutUint32(b[6:], p.IndexOffset)
}

// IndexedInstancedPrimList is an indexed, instanced draw.
type IndexedInstancedPrimList struct {
	Mode           PrimMode
	IndexType      IndexType
	InstanceLength uint32
	Instances      uint32
	IndexOffset    uint32
}

func (IndexedInstancedPrimList) op() Opcode { return OpIndexedInstancedPrimList }
func (p IndexedInstancedPrimList) encode(_ *List, b []byte) {
	b[0] = byte(p.Mode)
	b[1] = byte(p.IndexType)
	binary.LittleEndian.PutUint32(b[2:], p.InstanceLength)
	binary.LittleEndian.PutUint32(b[6:], p.Instances)
	binary.LittleEndian.PutUint32(b[10:], p.IndexOffset)
}

// BaseVertexBaseInstance sets the base offsets applied by the
// following draw packet.
type BaseVertexBaseInstance struct {
	BaseVertex   uint32
	BaseInstance uint32
}

func (BaseVertexBaseInstance) op() Opcode { return OpBaseVertexBaseInstance }
func (p BaseVertexBaseInstance) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint32(b[0:], p.BaseVertex)
	binary.LittleEndian.PutUint32(b[4:], p.BaseInstance)
}

// IndexBufferSetup binds the index buffer range for indexed draws.
type IndexBufferSetup struct {
	Addr Address
	Size uint32
}

func (IndexBufferSetup) op() Opcode { return OpIndexBufferSetup }
func (p IndexBufferSetup) encode(l *List, b []byte) {
	putAddr(l, b[0:], p.Addr)
	binary.LittleEndian.PutUint32(b[4:], p.Size)
}

// PrimListFormat tells the rendering pass what primitive type the
// binned lists contain.
type PrimListFormat struct {
	Mode PrimMode
}

func (PrimListFormat) op() Opcode { return OpPrimListFormat }
func (p PrimListFormat) encode(_ *List, b []byte) {
	b[0] = byte(p.Mode)
}

// GLShaderState points at the shader state record built in the
// indirect list. The low bits carry the attribute array count.
type GLShaderState struct {
	Addr     Address
	NumAttrs uint8
}

func (GLShaderState) op() Opcode { return OpGLShaderState }
func (p GLShaderState) encode(l *List, b []byte) {
	l.addBO(p.Addr.BO)
	// The record is 32-byte aligned; the count lives in bits 0-4.
	binary.LittleEndian.PutUint32(b, p.Addr.Absolute()|uint32(p.NumAttrs&0x1f))
}

// ---------------------------------------------------------------------------
// Fixed-function state
// ---------------------------------------------------------------------------

// CompareFunc matches the hardware depth/stencil compare encoding.
type CompareFunc uint8

const (
	CompareNever    CompareFunc = 0
	CompareLess     CompareFunc = 1
	CompareEqual    CompareFunc = 2
	CompareLEqual   CompareFunc = 3
	CompareGreater  CompareFunc = 4
	CompareNotEqual CompareFunc = 5
	CompareGEqual   CompareFunc = 6
	CompareAlways   CompareFunc = 7
)

// CfgBits is the main fixed-function configuration packet.
type CfgBits struct {
	EnableForwardFacing  bool
	EnableReverseFacing  bool
	ClockwiseFrontFacing bool
	EnableDepthOffset    bool
	RasterizerOversample uint8 // 0, 1 (4x), 2 (16x)
	ZUpdatesEnable       bool
	DepthFunc            CompareFunc
	EarlyZEnable         bool
	EarlyZUpdatesEnable  bool
	StencilEnable        bool
	BlendEnable          bool
}

func (CfgBits) op() Opcode { return OpCfgBits }
func (p CfgBits) encode(_ *List, b []byte) {
	if p.EnableForwardFacing {
		b[0] |= 1 << 0
	}
	if p.EnableReverseFacing {
		b[0] |= 1 << 1
	}
	if p.ClockwiseFrontFacing {
		b[0] |= 1 << 2
	}
	if p.EnableDepthOffset {
		b[0] |= 1 << 3
	}
	b[0] |= (p.RasterizerOversample & 3) << 6

	b[1] = byte(p.DepthFunc) & 7
	if p.ZUpdatesEnable {
		b[1] |= 1 << 3
	}
	if p.EarlyZEnable {
		b[1] |= 1 << 4
	}
	if p.EarlyZUpdatesEnable {
		b[1] |= 1 << 5
	}

	if p.StencilEnable {
		b[2] |= 1 << 0
	}
	if p.BlendEnable {
		b[2] |= 1 << 1
	}
}

// StencilOp matches the hardware stencil operation encoding.
type StencilOp uint8

const (
	StencilOpZero StencilOp = iota
	StencilOpKeep
	StencilOpReplace
	StencilOpIncr
	StencilOpDecr
	StencilOpInvert
	StencilOpIncrWrap
	StencilOpDecrWrap
)

// StencilCfg configures one or both stencil faces.
type StencilCfg struct {
	FrontConfig bool
	BackConfig  bool
	Ref         uint8
	TestMask    uint8
	WriteMask   uint8
	TestFunc    CompareFunc
	StencilFail StencilOp
	DepthFail   StencilOp
	DepthPass   StencilOp
}

func (StencilCfg) op() Opcode { return OpStencilCfg }
func (p StencilCfg) encode(_ *List, b []byte) {
	b[0] = p.Ref
	b[1] = p.TestMask
	b[2] = p.WriteMask
	b[3] = byte(p.TestFunc) & 7
	b[4] = byte(p.StencilFail)&7 | (byte(p.DepthFail)&7)<<3
	b[5] = byte(p.DepthPass) & 7
	if p.FrontConfig {
		b[6] |= 1 << 0
	}
	if p.BackConfig {
		b[6] |= 1 << 1
	}
}

// BlendEnables sets the per-render-target blend enable mask.
type BlendEnables struct{ Mask uint8 }

func (BlendEnables) op() Opcode { return OpBlendEnables }
func (p BlendEnables) encode(_ *List, b []byte) { b[0] = p.Mask }

// BlendCfg configures the blend equation for the selected render
// targets. Factors and ops use the hardware encodings supplied by the
// pipeline, packed 4 bits each.
type BlendCfg struct {
	RTMask    uint8
	ColorOp   uint8
	SrcColorF uint8
	DstColorF uint8
	AlphaOp   uint8
	SrcAlphaF uint8
	DstAlphaF uint8
}

func (BlendCfg) op() Opcode { return OpBlendCfg }
func (p BlendCfg) encode(_ *List, b []byte) {
	b[0] = p.RTMask
	b[1] = p.ColorOp&0xf | p.AlphaOp<<4
	b[2] = p.SrcColorF&0xf | p.DstColorF<<4
	b[3] = p.SrcAlphaF&0xf | p.DstAlphaF<<4
	// b[4] reserved
}

// BlendConstantColor sets the blend constant, 16 bits per channel.
type BlendConstantColor struct{ R, G, B, A uint16 }

func (BlendConstantColor) op() Opcode { return OpBlendConstantColor }
func (p BlendConstantColor) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint16(b[0:], p.R)
	binary.LittleEndian.PutUint16(b[2:], p.G)
	binary.LittleEndian.PutUint16(b[4:], p.B)
	binary.LittleEndian.PutUint16(b[6:], p.A)
}

// ColorWriteMasks disables color channel writes, 4 bits per render
// target, set bit = masked channel.
type ColorWriteMasks struct{ Mask uint32 }

func (ColorWriteMasks) op() Opcode { return OpColorWriteMasks }
func (p ColorWriteMasks) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint32(b, p.Mask)
}

// OcclusionQueryCounter points the sample counter at a query result
// address; a zero address disables counting.
type OcclusionQueryCounter struct{ Addr Address }

func (OcclusionQueryCounter) op() Opcode { return OpOcclusionQueryCounter }
func (p OcclusionQueryCounter) encode(l *List, b []byte) {
	putAddr(l, b, p.Addr)
}

// PointSize sets the point sprite size in pixels.
type PointSize struct{ Size float32 }

func (PointSize) op() Opcode { return OpPointSize }
func (p PointSize) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint32(b, f32bits(p.Size))
}

// LineWidth sets the rasterized line width in pixels.
type LineWidth struct{ Width float32 }

func (LineWidth) op() Opcode { return OpLineWidth }
func (p LineWidth) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint32(b, f32bits(p.Width))
}

// ClipWindow is the hardware scissor in framebuffer pixels.
type ClipWindow struct {
	Left   uint16
	Bottom uint16
	Width  uint16
	Height uint16
}

func (ClipWindow) op() Opcode { return OpClipWindow }
func (p ClipWindow) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint16(b[0:], p.Left)
	binary.LittleEndian.PutUint16(b[2:], p.Bottom)
	binary.LittleEndian.PutUint16(b[4:], p.Width)
	binary.LittleEndian.PutUint16(b[6:], p.Height)
}

// ViewportOffset is the viewport center in 1/256 pixel units.
type ViewportOffset struct{ X, Y int32 }

func (ViewportOffset) op() Opcode { return OpViewportOffset }
func (p ViewportOffset) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint32(b[0:], uint32(p.X))
	binary.LittleEndian.PutUint32(b[4:], uint32(p.Y))
}

// ClipperXYScaling is the viewport half-extent in 1/256 pixel units.
type ClipperXYScaling struct{ HalfWidth, HalfHeight float32 }

func (ClipperXYScaling) op() Opcode { return OpClipperXYScaling }
func (p ClipperXYScaling) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint32(b[0:], f32bits(p.HalfWidth))
	binary.LittleEndian.PutUint32(b[4:], f32bits(p.HalfHeight))
}

// ClipperZScaleAndOffset maps NDC z to the depth range.
type ClipperZScaleAndOffset struct{ Scale, Offset float32 }

func (ClipperZScaleAndOffset) op() Opcode { return OpClipperZScaleAndOffset }
func (p ClipperZScaleAndOffset) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint32(b[0:], f32bits(p.Scale))
	binary.LittleEndian.PutUint32(b[4:], f32bits(p.Offset))
}

// DepthOffset is the polygon depth bias.
type DepthOffset struct{ Factor, Units float32 }

func (DepthOffset) op() Opcode { return OpDepthOffset }
func (p DepthOffset) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint32(b[0:], f32bits(p.Factor))
	binary.LittleEndian.PutUint32(b[4:], f32bits(p.Units))
}

// NumberOfLayers declares the framebuffer layer count for layered
// rendering.
type NumberOfLayers struct{ Layers uint8 }

func (NumberOfLayers) op() Opcode { return OpNumberOfLayers }
func (p NumberOfLayers) encode(_ *List, b []byte) {
	// Encoded off by one: 0 means 1 layer.
	b[0] = p.Layers - 1
}

// ---------------------------------------------------------------------------
// Frame configuration
// ---------------------------------------------------------------------------

// TileAllocBlockSize is the initial chained tile list block size.
type TileAllocBlockSize uint8

const (
	TileAllocBlock64  TileAllocBlockSize = 0
	TileAllocBlock128 TileAllocBlockSize = 1
	TileAllocBlock256 TileAllocBlockSize = 2
)

// TileBinningModeCfg configures the binner for a frame.
type TileBinningModeCfg struct {
	WidthPixels        uint16
	HeightPixels       uint16
	Log2TileWidth      uint8
	Log2TileHeight     uint8
	RenderTargets      uint8
	MaxBPP             uint8
	Layers             uint8
	TileAllocBlockSize TileAllocBlockSize
	TileAllocAddr      Address
	TileStateAddr      Address
}

func (TileBinningModeCfg) op() Opcode { return OpTileBinningModeCfg }
func (p TileBinningModeCfg) encode(l *List, b []byte) {
	binary.LittleEndian.PutUint16(b[0:], p.WidthPixels)
	binary.LittleEndian.PutUint16(b[2:], p.HeightPixels)
	b[4] = p.Log2TileWidth&0xf | p.Log2TileHeight<<4
	b[5] = p.RenderTargets
	b[6] = p.MaxBPP&0xf | uint8(p.TileAllocBlockSize)<<4
	b[7] = p.Layers
	putAddr(l, b[8:], p.TileAllocAddr)
	putAddr(l, b[12:], p.TileStateAddr)
	// b[16] reserved
}

// renderingCfgSub selects the TILE_RENDERING_MODE_CFG variant. All
// variants share one opcode and one length; the first payload byte is
// the sub-id.
type renderingCfgSub = uint8

const (
	renderingCfgCommon        renderingCfgSub = 0
	renderingCfgColor         renderingCfgSub = 1
	renderingCfgZSClearValues renderingCfgSub = 2
	renderingCfgClearPart1    renderingCfgSub = 3
	renderingCfgClearPart2    renderingCfgSub = 4
	renderingCfgClearPart3    renderingCfgSub = 5
)

// TileRenderingModeCfgCommon is the per-frame rendering configuration.
type TileRenderingModeCfgCommon struct {
	WidthPixels   uint16
	HeightPixels  uint16
	RenderTargets uint8
	MaxBPP        uint8
	Multisample   bool
	DoubleBuffer  bool
	EarlyZDisable bool
}

func (TileRenderingModeCfgCommon) op() Opcode { return OpTileRenderingModeCfg }
func (p TileRenderingModeCfgCommon) encode(_ *List, b []byte) {
	b[0] = renderingCfgCommon
	binary.LittleEndian.PutUint16(b[1:], p.WidthPixels)
	binary.LittleEndian.PutUint16(b[3:], p.HeightPixels)
	b[5] = p.RenderTargets
	b[6] = p.MaxBPP & 0xf
	if p.Multisample {
		b[7] |= 1 << 0
	}
	if p.DoubleBuffer {
		b[7] |= 1 << 1
	}
	if p.EarlyZDisable {
		b[7] |= 1 << 2
	}
}

// RenderTargetCfg is one render target's slot in the COLOR variant.
type RenderTargetCfg struct {
	InternalBPP  uint8
	InternalType uint8
	Clamp        uint8
}

// TileRenderingModeCfgColor describes all four render target slots.
type TileRenderingModeCfgColor struct {
	RT [4]RenderTargetCfg
}

func (TileRenderingModeCfgColor) op() Opcode { return OpTileRenderingModeCfg }
func (p TileRenderingModeCfgColor) encode(_ *List, b []byte) {
	b[0] = renderingCfgColor
	for i, rt := range p.RT {
		b[1+2*i] = rt.InternalBPP&3 | rt.InternalType<<2
		b[2+2*i] = rt.Clamp & 3
	}
}

// TileRenderingModeCfgZSClearValues carries the Z/stencil clear values.
type TileRenderingModeCfgZSClearValues struct {
	Z       float32
	Stencil uint8
}

func (TileRenderingModeCfgZSClearValues) op() Opcode { return OpTileRenderingModeCfg }
func (p TileRenderingModeCfgZSClearValues) encode(_ *List, b []byte) {
	b[0] = renderingCfgZSClearValues
	binary.LittleEndian.PutUint32(b[1:], f32bits(p.Z))
	b[5] = p.Stencil
}

// TileRenderingModeCfgClearColorsPart1 carries clear color bits 0-55
// for one render target.
type TileRenderingModeCfgClearColorsPart1 struct {
	RT     uint8
	Low32  uint32
	Next24 uint32
}

func (TileRenderingModeCfgClearColorsPart1) op() Opcode { return OpTileRenderingModeCfg }
func (p TileRenderingModeCfgClearColorsPart1) encode(_ *List, b []byte) {
	b[0] = renderingCfgClearPart1
	b[1] = p.RT
	binary.LittleEndian.PutUint32(b[2:], p.Low32)
	b[6] = byte(p.Next24)
	b[7] = byte(p.Next24 >> 8)
	b[8] = byte(p.Next24 >> 16)
}

// TileRenderingModeCfgClearColorsPart2 carries clear color bits 56-111,
// needed for 64bpp and wider internal formats.
type TileRenderingModeCfgClearColorsPart2 struct {
	RT        uint8
	MidLow32  uint32
	MidHigh24 uint32
}

func (TileRenderingModeCfgClearColorsPart2) op() Opcode { return OpTileRenderingModeCfg }
func (p TileRenderingModeCfgClearColorsPart2) encode(_ *List, b []byte) {
	b[0] = renderingCfgClearPart2
	b[1] = p.RT
	binary.LittleEndian.PutUint32(b[2:], p.MidLow32)
	b[6] = byte(p.MidHigh24)
	b[7] = byte(p.MidHigh24 >> 8)
	b[8] = byte(p.MidHigh24 >> 16)
}

// TileRenderingModeCfgClearColorsPart3 carries the top clear color bits
// and the UIF clear padding (GFXH-1461 workaround carrier).
type TileRenderingModeCfgClearColorsPart3 struct {
	RT              uint8
	UIFPaddedHeight uint16
	High16          uint16
}

func (TileRenderingModeCfgClearColorsPart3) op() Opcode { return OpTileRenderingModeCfg }
func (p TileRenderingModeCfgClearColorsPart3) encode(_ *List, b []byte) {
	b[0] = renderingCfgClearPart3
	b[1] = p.RT
	binary.LittleEndian.PutUint16(b[2:], p.UIFPaddedHeight)
	binary.LittleEndian.PutUint16(b[4:], p.High16)
}

// TileListInitialBlockSize configures tile list chaining.
type TileListInitialBlockSize struct {
	Size      TileAllocBlockSize
	AutoChain bool
}

func (TileListInitialBlockSize) op() Opcode { return OpTileListInitialBlockSize }
func (p TileListInitialBlockSize) encode(_ *List, b []byte) {
	b[0] = uint8(p.Size) & 3
	if p.AutoChain {
		b[0] |= 1 << 2
	}
}

// MulticoreRenderingSupertileCfg configures the supertile grid for the
// rendering pass.
type MulticoreRenderingSupertileCfg struct {
	SupertileWidth  uint8
	SupertileHeight uint8

	FrameWidthInSupertiles  uint8
	FrameHeightInSupertiles uint8

	TotalTilesX   uint16
	TotalTilesY   uint16
	BinTileLists  uint8
	MultipleCores bool
}

func (MulticoreRenderingSupertileCfg) op() Opcode { return OpMulticoreRenderingSupertileCfg }
func (p MulticoreRenderingSupertileCfg) encode(_ *List, b []byte) {
	b[0] = p.SupertileWidth
	b[1] = p.SupertileHeight
	b[2] = p.FrameWidthInSupertiles
	b[3] = p.FrameHeightInSupertiles
	binary.LittleEndian.PutUint16(b[4:], p.TotalTilesX)
	binary.LittleEndian.PutUint16(b[6:], p.TotalTilesY)
	b[8] = p.BinTileLists
	if p.MultipleCores {
		b[9] |= 1 << 0
	}
}

// MulticoreRenderingTileListSetBase points at the binned tile lists
// for one layer.
type MulticoreRenderingTileListSetBase struct{ Addr Address }

func (MulticoreRenderingTileListSetBase) op() Opcode { return OpMulticoreRenderingTileListSetBase }
func (p MulticoreRenderingTileListSetBase) encode(l *List, b []byte) {
	putAddr(l, b, p.Addr)
}

// TileCoordinates selects an explicit tile.
type TileCoordinates struct{ Column, Row uint16 }

func (TileCoordinates) op() Opcode { return OpTileCoordinates }
func (p TileCoordinates) encode(_ *List, b []byte) {
	binary.LittleEndian.PutUint16(b[0:], p.Column)
	binary.LittleEndian.PutUint16(b[2:], p.Row)
}

// SupertileCoordinates queues one supertile for rendering. The total
// supertile grid must stay under 256 entries, which the frame tiling
// calculation guarantees.
type SupertileCoordinates struct{ Column, Row uint8 }

func (SupertileCoordinates) op() Opcode { return OpSupertileCoordinates }
func (p SupertileCoordinates) encode(_ *List, b []byte) {
	b[0] = p.Column
	b[1] = p.Row
}
