package memory

import "encoding/binary"

// DataPattern selects how SetDataPattern fills a buffer
type DataPattern int

const (
	DataPatConst8Bit DataPattern = iota
	DataPatConst32Bit
	DataPatInc16Bit
	DataPatInc32Bit
)

func (p DataPattern) String() string {
	switch p {
	case DataPatConst8Bit:
		return "const8"
	case DataPatConst32Bit:
		return "const32"
	case DataPatInc16Bit:
		return "inc16"
	case DataPatInc32Bit:
		return "inc32"
	default:
		return "unknown"
	}
}

// SetDataPattern fills the usable region. Incrementing patterns start at
// initial and count up per element; a trailing partial element is truncated.
func (b *Buffer) SetDataPattern(p DataPattern, initial uint32) {
	data := b.Bytes()
	switch p {
	case DataPatConst8Bit:
		for i := range data {
			data[i] = byte(initial)
		}
	case DataPatConst32Bit:
		fill32(data, func(uint32) uint32 { return initial })
	case DataPatInc16Bit:
		var tmp [2]byte
		for i := 0; i < len(data); i += 2 {
			binary.LittleEndian.PutUint16(tmp[:], uint16(initial)+uint16(i/2))
			copy(data[i:], tmp[:])
		}
	case DataPatInc32Bit:
		fill32(data, func(n uint32) uint32 { return initial + n })
	}
}

func fill32(data []byte, val func(n uint32) uint32) {
	var tmp [4]byte
	for i := 0; i < len(data); i += 4 {
		binary.LittleEndian.PutUint32(tmp[:], val(uint32(i/4)))
		copy(data[i:], tmp[:])
	}
}
