package frame

import "fmt"

// MaxPayload is the largest payload the 4-bit length nibble can describe.
const MaxPayload = 15

// Frame is either a token (Header.Type == TypeToken, no command or payload)
// or a command frame.
type Frame struct {
	Header  Header
	Command Command
	Payload []byte
}

// NewToken returns a token passed from src to dest.
func NewToken(dest, src StationID) *Frame {
	return &Frame{Header: Header{Destination: dest, Source: src, Type: TypeToken}}
}

// NewCommand returns a command frame addressed to dest. The source and
// counter are filled in by the controller when the frame is transmitted.
func NewCommand(dest StationID, broadcast bool, cmd Command, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Destination: dest,
			Broadcast:   broadcast,
			Type:        TypeCommand,
		},
		Command: cmd,
		Payload: payload,
	}
}

// IsToken reports whether f is a token.
func (f *Frame) IsToken() bool {
	return f.Header.Type == TypeToken
}

// FunctionID returns the first payload byte, which selects the remote
// operation of Request/Response frames.
func (f *Frame) FunctionID() (uint8, bool) {
	if f.IsToken() || len(f.Payload) == 0 {
		return 0, false
	}
	return f.Payload[0], true
}

// Validate reports the first field that cannot be encoded.
func (f *Frame) Validate() error {
	if err := f.Header.Validate(); err != nil {
		return err
	}
	if f.IsToken() {
		return nil
	}
	if f.Command > 0x0F {
		return rangeError("command", int(f.Command), 0x0F)
	}
	if len(f.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(f.Payload))
	}
	return nil
}

// MarshalBinary returns the unescaped frame body without checksum: the
// header and, for command frames, the command byte and payload.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f.appendTo(make([]byte, 0, HeaderLen+1+len(f.Payload))), nil
}

func (f *Frame) appendTo(b []byte) []byte {
	b = f.Header.appendTo(b)
	if f.IsToken() {
		return b
	}
	b = append(b, byte(f.Command)<<4|byte(len(f.Payload)))
	return append(b, f.Payload...)
}

// DecodeFrame parses an unescaped frame body as produced by MarshalBinary.
// A trailing checksum, if present, is ignored.
func DecodeFrame(b []byte) (*Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	f := &Frame{Header: h}
	if f.IsToken() {
		return f, nil
	}
	if len(b) < HeaderLen+1 {
		return nil, ErrShortFrame
	}
	f.Command = Command(b[HeaderLen] >> 4)
	n := int(b[HeaderLen] & 0x0F)
	if len(b) < HeaderLen+1+n {
		return nil, ErrShortFrame
	}
	f.Payload = append([]byte(nil), b[HeaderLen+1:HeaderLen+1+n]...)
	return f, nil
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	c := *f
	if f.Payload != nil {
		c.Payload = append([]byte(nil), f.Payload...)
	}
	return &c
}

func (f *Frame) String() string {
	if f.IsToken() {
		return fmt.Sprintf("token %s->%s", f.Header.Source, f.Header.Destination)
	}
	dest := f.Header.Destination.String()
	if f.Header.Broadcast {
		dest = "*"
	}
	return fmt.Sprintf("%s %s->%s #%d % x", f.Command, f.Header.Source, dest, f.Header.Counter, f.Payload)
}
