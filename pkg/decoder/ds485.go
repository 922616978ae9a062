// Package decoder classifies and describes DS485 frames for traces and
// the passive sniffer.
package decoder

import (
	"fmt"
	"strings"

	"ds485d/pkg/businterface"
	"ds485d/pkg/frame"
)

// Direction classifies a frame as opening or answering an exchange.
// The values intentionally match the RTAC Serial event type byte.
type Direction uint8

const (
	DirUnknown Direction = 0x00 // STATUS_CHANGE: tokens, acks, events
	DirTX      Direction = 0x01 // DATA_TX_START: requests
	DirRX      Direction = 0x02 // DATA_RX_START: responses
)

func (d Direction) String() string {
	switch d {
	case DirTX:
		return "TX"
	case DirRX:
		return "RX"
	default:
		return "?"
	}
}

// Classify returns the direction of f as seen by a passive observer.
func Classify(f *frame.Frame) Direction {
	if f.IsToken() {
		return DirUnknown
	}
	switch f.Command {
	case frame.CommandSolicitSuccessorRequest,
		frame.CommandSolicitSuccessorRequestLong,
		frame.CommandGetAddressRequest,
		frame.CommandSetDeviceAddressRequest,
		frame.CommandSetSuccessorAddressRequest,
		frame.CommandRequest:
		return DirTX
	case frame.CommandSolicitSuccessorResponse,
		frame.CommandGetAddressResponse,
		frame.CommandSetDeviceAddressResponse,
		frame.CommandSetSuccessorAddressResponse,
		frame.CommandResponse:
		return DirRX
	default:
		return DirUnknown
	}
}

// Describe renders f on one line, naming the function of application
// frames and the address carried by ring management frames.
func Describe(f *frame.Frame) string {
	var sb strings.Builder
	sb.WriteString(f.String())
	if f.IsToken() {
		return sb.String()
	}
	switch f.Command {
	case frame.CommandRequest, frame.CommandResponse, frame.CommandEvent:
		if fid, ok := f.FunctionID(); ok {
			fmt.Fprintf(&sb, " [%s]", businterface.FunctionName(fid))
		}
	case frame.CommandSolicitSuccessorResponse:
		if id, err := frame.DSIDFromBytes(f.Payload); err == nil {
			fmt.Fprintf(&sb, " [dsid %s]", id)
		}
	case frame.CommandSetDeviceAddressRequest:
		if len(f.Payload) > 0 {
			fmt.Fprintf(&sb, " [address %s]", frame.StationID(f.Payload[0]))
		}
	case frame.CommandSetSuccessorAddressRequest:
		if len(f.Payload) > 0 {
			fmt.Fprintf(&sb, " [successor %s]", frame.StationID(f.Payload[0]))
		}
	}
	return sb.String()
}

// Tally counts frames by direction, the way the live status line reports
// them.
type Tally struct {
	Frames  int
	TX      int
	RX      int
	Unknown int
}

// Add counts f.
func (t *Tally) Add(f *frame.Frame) {
	t.Frames++
	switch Classify(f) {
	case DirTX:
		t.TX++
	case DirRX:
		t.RX++
	default:
		t.Unknown++
	}
}

func (t Tally) String() string {
	return fmt.Sprintf("frames: %d (TX: %d  RX: %d  ?: %d)", t.Frames, t.TX, t.RX, t.Unknown)
}
