package frame

import "fmt"

// Command is the 4-bit command code carried in the upper nibble of byte 3
// of a command frame.
type Command uint8

const (
	CommandSolicitSuccessorRequest     Command = 0x01
	CommandSolicitSuccessorResponse    Command = 0x02
	CommandGetAddressRequest           Command = 0x03
	CommandGetAddressResponse          Command = 0x04
	CommandSetDeviceAddressRequest     Command = 0x05
	CommandSetDeviceAddressResponse    Command = 0x06
	CommandSetSuccessorAddressRequest  Command = 0x07
	CommandSetSuccessorAddressResponse Command = 0x08
	CommandRequest                     Command = 0x09
	CommandResponse                    Command = 0x0A
	CommandAck                         Command = 0x0B
	CommandBusy                        Command = 0x0C
	CommandEvent                       Command = 0x0D
	// CommandSolicitSuccessorRequestLong is the solicit variant sent while
	// the master admits slow-joining devices.
	CommandSolicitSuccessorRequestLong Command = 0x0E
)

var commandNames = map[Command]string{
	CommandSolicitSuccessorRequest:     "SolicitSuccessorRequest",
	CommandSolicitSuccessorResponse:    "SolicitSuccessorResponse",
	CommandGetAddressRequest:           "GetAddressRequest",
	CommandGetAddressResponse:          "GetAddressResponse",
	CommandSetDeviceAddressRequest:     "SetDeviceAddressRequest",
	CommandSetDeviceAddressResponse:    "SetDeviceAddressResponse",
	CommandSetSuccessorAddressRequest:  "SetSuccessorAddressRequest",
	CommandSetSuccessorAddressResponse: "SetSuccessorAddressResponse",
	CommandRequest:                     "Request",
	CommandResponse:                    "Response",
	CommandAck:                         "Ack",
	CommandBusy:                        "Busy",
	CommandEvent:                       "Event",
	CommandSolicitSuccessorRequestLong: "SolicitSuccessorRequestLong",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02x)", uint8(c))
}

// IsSolicit reports whether c opens a join window.
func (c Command) IsSolicit() bool {
	return c == CommandSolicitSuccessorRequest || c == CommandSolicitSuccessorRequestLong
}
