package frame

// Type distinguishes tokens from command frames (bit 0 of header byte 1).
type Type uint8

const (
	TypeToken   Type = 0
	TypeCommand Type = 1
)

// HeaderLen is the encoded size of a header including the frame-start
// marker.
const HeaderLen = 3

// Header is the fixed 3-byte prefix of every frame.
type Header struct {
	Destination StationID
	Broadcast   bool
	Type        Type
	Source      StationID
	Counter     uint8
}

// Validate checks every field against its bit width.
func (h Header) Validate() error {
	switch {
	case !h.Destination.Valid():
		return rangeError("destination", int(h.Destination), int(MaxStation))
	case !h.Source.Valid():
		return rangeError("source", int(h.Source), int(MaxStation))
	case h.Counter > 3:
		return rangeError("counter", int(h.Counter), 3)
	case h.Type > TypeCommand:
		return rangeError("type", int(h.Type), 1)
	}
	return nil
}

// MarshalBinary encodes the header as marker, address byte and source byte.
func (h Header) MarshalBinary() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h.appendTo(make([]byte, 0, HeaderLen)), nil
}

func (h Header) appendTo(b []byte) []byte {
	var bc byte
	if h.Broadcast {
		bc = 1
	}
	return append(b,
		FrameStart,
		byte(h.Destination)<<2|bc<<1|byte(h.Type),
		byte(h.Source)<<2|h.Counter,
	)
}

// DecodeHeader decodes the first HeaderLen bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortFrame
	}
	if b[0] != FrameStart {
		return Header{}, ErrNoFrameStart
	}
	return Header{
		Destination: StationID(b[1] >> 2),
		Broadcast:   b[1]&0x02 != 0,
		Type:        Type(b[1] & 0x01),
		Source:      StationID(b[2] >> 2),
		Counter:     b[2] & 0x03,
	}, nil
}
