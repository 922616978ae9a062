package frame

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// DSIDLen is the encoded size of a DSID.
const DSIDLen = 12

// DSID is the 96-bit identifier of a meter or device.
type DSID struct {
	Upper uint64
	Lower uint32
}

// DefaultDSID identifies this node when no id is configured.
var DefaultDSID = DSID{Upper: 0x3504175FE0000000, Lower: 0xDEADBEEF}

// NullDSID is the zero identifier.
var NullDSID DSID

// ParseDSID parses 24 hex digits.
func ParseDSID(s string) (DSID, error) {
	if len(s) != 2*DSIDLen {
		return DSID{}, fmt.Errorf("dsid %q: want %d hex digits", s, 2*DSIDLen)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return DSID{}, fmt.Errorf("dsid %q: %w", s, err)
	}
	return DSIDFromBytes(b)
}

// DSIDFromBytes decodes the 12-byte big-endian wire form.
func DSIDFromBytes(b []byte) (DSID, error) {
	if len(b) < DSIDLen {
		return DSID{}, ErrShortPayload
	}
	return DSID{
		Upper: binary.BigEndian.Uint64(b[0:8]),
		Lower: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// AppendBinary appends the 12-byte big-endian wire form.
func (id DSID) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, id.Upper)
	return binary.BigEndian.AppendUint32(b, id.Lower)
}

func (id DSID) String() string {
	return fmt.Sprintf("%016X%08X", id.Upper, id.Lower)
}

// MarshalText implements encoding.TextMarshaler.
func (id DSID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *DSID) UnmarshalText(b []byte) error {
	v, err := ParseDSID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
