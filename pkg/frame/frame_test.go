package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"check string", []byte("123456789"), 0x2189},
		{"request frame", []byte{0xfd, 0x01, 0x03, 0x14, 0xbb, 0x01, 0x00, 0x00}, 0x08eb},
		{"empty", nil, 0x0000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Errorf("Checksum() = 0x%04x, want 0x%04x", got, tt.want)
			}
		})
	}
}

func TestRequestFrameLayout(t *testing.T) {
	f := &Frame{
		Header: Header{
			Destination: 5,
			Type:        TypeCommand,
			Source:      3,
		},
		Command: CommandRequest,
		Payload: []byte{0x01, 0xAB, 0xCD},
	}
	b, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	wantHeader := []byte{FrameStart, 5<<2 | 1, 3 << 2}
	if !bytes.Equal(b[:3], wantHeader) {
		t.Errorf("header = % x, want % x", b[:3], wantHeader)
	}
	if b[3] != 0x09<<4|3 {
		t.Errorf("command byte = 0x%02x, want 0x%02x", b[3], 0x09<<4|3)
	}
	if !bytes.Equal(b[4:], f.Payload) {
		t.Errorf("payload = % x, want % x", b[4:], f.Payload)
	}
}

func TestTokenEncoding(t *testing.T) {
	tok := NewToken(2, 1)
	b, err := EncodeWire(tok)
	if err != nil {
		t.Fatalf("EncodeWire: %v", err)
	}
	want := []byte{FrameStart, 2 << 2, 1 << 2}
	if !bytes.Equal(b, want) {
		t.Errorf("token = % x, want % x", b, want)
	}
}

func TestRoundTrip(t *testing.T) {
	frames := []*Frame{
		NewToken(0, 63),
		{Header: Header{Destination: 63, Broadcast: true, Type: TypeCommand, Source: 0, Counter: 3}, Command: CommandSolicitSuccessorRequest},
		{Header: Header{Destination: 12, Type: TypeCommand, Source: 7, Counter: 1}, Command: CommandResponse, Payload: []byte{0x10, 0xFD, 0xFC, 0x00}},
		{Header: Header{Destination: 1, Type: TypeCommand, Source: 2, Counter: 2}, Command: CommandRequest, Payload: bytes.Repeat([]byte{0xAA}, MaxPayload)},
	}
	for _, f := range frames {
		t.Run(f.String(), func(t *testing.T) {
			b, err := f.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary: %v", err)
			}
			got, err := DecodeFrame(b)
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if got.Header != f.Header {
				t.Errorf("header = %+v, want %+v", got.Header, f.Header)
			}
			if got.Command != f.Command {
				t.Errorf("command = %s, want %s", got.Command, f.Command)
			}
			if !bytes.Equal(got.Payload, f.Payload) {
				t.Errorf("payload = % x, want % x", got.Payload, f.Payload)
			}
		})
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		f    *Frame
		want error
	}{
		{"destination", &Frame{Header: Header{Destination: 64, Type: TypeCommand}}, ErrFieldRange},
		{"source unassigned", &Frame{Header: Header{Source: Unassigned, Type: TypeCommand}}, ErrFieldRange},
		{"counter", &Frame{Header: Header{Counter: 4, Type: TypeCommand}}, ErrFieldRange},
		{"command", &Frame{Header: Header{Type: TypeCommand}, Command: 0x10}, ErrFieldRange},
		{"payload", &Frame{Header: Header{Type: TypeCommand}, Payload: make([]byte, 16)}, ErrPayloadTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWire(tt.f); !errors.Is(err, tt.want) {
				t.Errorf("EncodeWire() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWireEscaping(t *testing.T) {
	f := &Frame{
		Header:  Header{Destination: 1, Type: TypeCommand, Source: 2},
		Command: CommandRequest,
		Payload: []byte{FrameStart, Escape},
	}
	b, err := EncodeWire(f)
	if err != nil {
		t.Fatalf("EncodeWire: %v", err)
	}
	if bytes.IndexByte(b[1:], FrameStart) >= 0 {
		t.Errorf("unescaped marker inside frame: % x", b)
	}
	want := []byte{Escape, FrameStart & 0x7F, Escape, Escape & 0x7F}
	if !bytes.Contains(b, want) {
		t.Errorf("wire = % x, want stuffed sequence % x", b, want)
	}
}

func TestPayloadDissector(t *testing.T) {
	p := NewPayload(0x42).AddUint8(7).AddUint16(0x1234).AddUint32(0xAABBCCDD)
	want := []byte{0x42, 0x07, 0x34, 0x12, 0xDD, 0xCC, 0xBB, 0xAA}
	if !bytes.Equal(p.Bytes(), want) {
		t.Fatalf("payload = % x, want % x", p.Bytes(), want)
	}

	d := NewDissector(p.Bytes())
	if fid := d.Uint8(); fid != 0x42 {
		t.Errorf("function id = 0x%02x, want 0x42", fid)
	}
	if v := d.Uint8(); v != 7 {
		t.Errorf("Uint8() = %d, want 7", v)
	}
	if v := d.Uint16(); v != 0x1234 {
		t.Errorf("Uint16() = 0x%04x, want 0x1234", v)
	}
	if v := d.Uint32(); v != 0xAABBCCDD {
		t.Errorf("Uint32() = 0x%08x, want 0xaabbccdd", v)
	}
	if !d.Empty() {
		t.Errorf("Remaining() = % x, want empty", d.Remaining())
	}
	d.Uint8()
	if !errors.Is(d.Err(), ErrShortPayload) {
		t.Errorf("Err() = %v, want ErrShortPayload", d.Err())
	}
}

func TestDSID(t *testing.T) {
	id, err := ParseDSID("3504175FE0000000DEADBEEF")
	if err != nil {
		t.Fatalf("ParseDSID: %v", err)
	}
	if id != DefaultDSID {
		t.Errorf("ParseDSID() = %v, want %v", id, DefaultDSID)
	}
	b := id.AppendBinary(nil)
	want := []byte{0x35, 0x04, 0x17, 0x5F, 0xE0, 0, 0, 0, 0xDE, 0xAD, 0xBE, 0xEF}
	if !bytes.Equal(b, want) {
		t.Errorf("AppendBinary() = % x, want % x", b, want)
	}
	if _, err := ParseDSID("1234"); err == nil {
		t.Error("ParseDSID(short) succeeded, want error")
	}
}
