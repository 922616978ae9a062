package frame

import "github.com/sigurn/crc16"

const (
	// FrameStart opens every frame. It never appears unescaped inside one.
	FrameStart byte = 0xFD
	// Escape precedes a stuffed byte; the following byte has its most
	// significant bit cleared on the wire.
	Escape byte = 0xFC
)

var kermit = crc16.MakeTable(crc16.CRC16_KERMIT)

// Checksum computes the CRC-16/KERMIT of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, kermit)
}

// NeedsEscape reports whether c must be stuffed when it follows the marker.
func NeedsEscape(c byte) bool {
	return c == FrameStart || c == Escape
}

func appendEscaped(b []byte, c byte) []byte {
	if NeedsEscape(c) {
		return append(b, Escape, c&0x7F)
	}
	return append(b, c)
}

// AppendWire appends the on-wire form of f to b: the marker followed by
// the escaped body and, for command frames, the escaped checksum sent
// least significant byte first.
func AppendWire(b []byte, f *Frame) ([]byte, error) {
	body, err := f.MarshalBinary()
	if err != nil {
		return b, err
	}
	b = append(b, body[0])
	for _, c := range body[1:] {
		b = appendEscaped(b, c)
	}
	if f.IsToken() {
		return b, nil
	}
	crc := Checksum(body)
	b = appendEscaped(b, byte(crc))
	b = appendEscaped(b, byte(crc>>8))
	return b, nil
}

// EncodeWire returns the on-wire form of f.
func EncodeWire(f *Frame) ([]byte, error) {
	return AppendWire(nil, f)
}
