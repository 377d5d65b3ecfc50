package cl

import (
	"fmt"
	"math"
	"strings"

	"github.com/gogpu/v3d/bo"
)

func f32bits(f float32) uint32 { return math.Float32bits(f) }

// Decoded is one instruction recovered from an encoded list.
type Decoded struct {
	Op      Opcode
	Addr    Address // where the opcode byte lives
	Payload []byte
}

// Decode errors.
var (
	errUnknownOpcode = fmt.Errorf("cl: decode: unknown opcode")
	errBadBranch     = fmt.Errorf("cl: decode: branch to unmapped address")
	errTruncated     = fmt.Errorf("cl: decode: truncated packet")
)

// Packets decodes the list from its first block up to the cursor,
// following the chaining BRANCH packets between blocks. The chaining
// branches themselves are transport, not content, and are omitted from
// the result, as are the data ranges written with WriteData; every
// other packet is returned in emission order.
//
// This is the driver's CLIF-style debug view and the test harness for
// the encoder round-trip property.
func (l *List) Packets() ([]Decoded, error) {
	if l.first == nil {
		return nil, nil
	}
	return decodeChain(l.first, 0, l.buf, l.next, l.blocks, l.raw)
}

// Dump renders the decoded list as one line per packet, in the style
// of the kernel's CLIF dumps. Intended for Debug-level logging; decode
// failures are reported inline rather than returned.
func (l *List) Dump() string {
	pkts, err := l.Packets()
	var sb strings.Builder
	for _, p := range pkts {
		fmt.Fprintf(&sb, "0x%08x: %s", p.Addr.Absolute(), opcodeTable[p.Op].name)
		if len(p.Payload) > 0 {
			fmt.Fprintf(&sb, " %x", p.Payload)
		}
		sb.WriteByte('\n')
	}
	if err != nil {
		fmt.Fprintf(&sb, "<%v>\n", err)
	}
	return sb.String()
}

func decodeChain(b *bo.BO, off uint32, endBO *bo.BO, endOff uint32, blocks []*bo.BO, raw []rawSpan) ([]Decoded, error) {
	byOffset := make(map[uint32]*bo.BO, len(blocks))
	for _, blk := range blocks {
		byOffset[blk.Offset] = blk
	}

	var out []Decoded
	for {
		if b == endBO && off >= endOff {
			return out, nil
		}
		if end, ok := rawEnd(raw, b, off); ok {
			off = end
			continue
		}
		if off >= uint32(len(b.Map)) {
			return out, errTruncated
		}

		op := Opcode(b.Map[off])
		info, ok := opcodeTable[op]
		if !ok {
			return out, fmt.Errorf("%w %d at +%d", errUnknownOpcode, op, off)
		}
		if off+1+uint32(info.payloadLen) > uint32(len(b.Map)) {
			return out, errTruncated
		}
		payload := b.Map[off+1 : off+1+uint32(info.payloadLen)]

		if op == OpBranch {
			// Follow the chain instead of reporting it.
			abs := uint32(payload[0]) | uint32(payload[1])<<8 |
				uint32(payload[2])<<16 | uint32(payload[3])<<24
			next, ok := byOffset[abs]
			if !ok {
				return out, errBadBranch
			}
			b, off = next, abs-next.Offset
			continue
		}

		out = append(out, Decoded{
			Op:      op,
			Addr:    Address{BO: b, Offset: off},
			Payload: payload,
		})
		off += 1 + uint32(info.payloadLen)
	}
}

// rawEnd reports whether (b, off) falls inside a data range and where
// that range ends.
func rawEnd(raw []rawSpan, b *bo.BO, off uint32) (uint32, bool) {
	for _, sp := range raw {
		if sp.b == b && off >= sp.start && off < sp.end {
			return sp.end, true
		}
	}
	return 0, false
}
