package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/abxctl/internal/protocol"
)

const (
	FrameLen  = 17
	SymbolLen = 4

	offSymbol   = 0
	offSide     = 4
	offQuantity = 5
	offPrice    = 9
	offSequence = 13
)

// Packet is one decoded market event.
type Packet struct {
	Symbol   string
	Side     byte
	Quantity int32
	Price    int32
	Sequence int32
}

func (p Packet) String() string {
	return fmt.Sprintf("%s %c %d %d %d", p.Symbol, p.Side, p.Quantity, p.Price, p.Sequence)
}

// Decode parses one server frame. Only buffers of exactly FrameLen bytes are frames.
func Decode(b []byte) (Packet, error) {
	if len(b) != FrameLen {
		return Packet{}, fmt.Errorf("%w: got %d bytes, want %d", protocol.ErrMalformedFrame, len(b), FrameLen)
	}
	return DecodeFrame([FrameLen]byte(b)), nil
}

// DecodeFrame parses a full frame. Symbol bytes outside 7-bit ASCII decode as '?'.
func DecodeFrame(f [FrameLen]byte) Packet {
	b := f[:]
	return Packet{
		Symbol:   asciiSymbol(b[offSymbol : offSymbol+SymbolLen]),
		Side:     b[offSide],
		Quantity: int32(binary.BigEndian.Uint32(b[offQuantity : offQuantity+4])),
		Price:    int32(binary.BigEndian.Uint32(b[offPrice : offPrice+4])),
		Sequence: int32(binary.BigEndian.Uint32(b[offSequence : offSequence+4])),
	}
}

func asciiSymbol(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c > 0x7f {
			c = '?'
		}
		out[i] = c
	}
	return string(out)
}

// Encode is the inverse of Decode. Symbols are padded or cut to SymbolLen bytes.
func Encode(p Packet) []byte {
	buf := make([]byte, FrameLen)
	sym := []byte(p.Symbol)
	for i := 0; i < SymbolLen; i++ {
		if i < len(sym) {
			buf[offSymbol+i] = sym[i]
		} else {
			buf[offSymbol+i] = ' '
		}
	}
	buf[offSide] = p.Side
	binary.BigEndian.PutUint32(buf[offQuantity:offQuantity+4], uint32(p.Quantity))
	binary.BigEndian.PutUint32(buf[offPrice:offPrice+4], uint32(p.Price))
	binary.BigEndian.PutUint32(buf[offSequence:offSequence+4], uint32(p.Sequence))
	return buf
}
