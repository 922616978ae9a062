package frame

import "fmt"

// StationID addresses a node on the bus. Valid ids are 0 through 63.
type StationID uint8

const (
	// MasterStation is the id the self-elected bus master takes.
	MasterStation StationID = 0
	// MaxStation is the highest encodable station id.
	MaxStation StationID = 63
	// JoiningStation is the temporary source a node uses while it is
	// being admitted to the ring. It is never handed out by the master.
	JoiningStation StationID = 0x3F
	// Unassigned marks a node that has no address yet. It can never be
	// encoded on the wire.
	Unassigned StationID = 0xFF
)

// Valid reports whether id fits the 6-bit address field.
func (id StationID) Valid() bool {
	return id <= MaxStation
}

func (id StationID) String() string {
	if id == Unassigned {
		return "unassigned"
	}
	return fmt.Sprintf("%d", uint8(id))
}
