package decoder

import (
	"strings"
	"testing"

	"ds485d/pkg/businterface"
	"ds485d/pkg/frame"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		f    *frame.Frame
		want Direction
	}{
		{"token", frame.NewToken(1, 0), DirUnknown},
		{"solicit", frame.NewCommand(0, true, frame.CommandSolicitSuccessorRequest, nil), DirTX},
		{"long solicit", frame.NewCommand(0, true, frame.CommandSolicitSuccessorRequestLong, nil), DirTX},
		{"solicit response", frame.NewCommand(0, false, frame.CommandSolicitSuccessorResponse, nil), DirRX},
		{"get address", frame.NewCommand(4, false, frame.CommandGetAddressRequest, nil), DirTX},
		{"get address response", frame.NewCommand(0, false, frame.CommandGetAddressResponse, nil), DirRX},
		{"set address", frame.NewCommand(0x3F, false, frame.CommandSetDeviceAddressRequest, []byte{2}), DirTX},
		{"set successor response", frame.NewCommand(0, false, frame.CommandSetSuccessorAddressResponse, nil), DirRX},
		{"request", frame.NewCommand(3, false, frame.CommandRequest, []byte{1}), DirTX},
		{"response", frame.NewCommand(0, false, frame.CommandResponse, []byte{1}), DirRX},
		{"ack", frame.NewCommand(3, false, frame.CommandAck, nil), DirUnknown},
		{"busy", frame.NewCommand(3, false, frame.CommandBusy, nil), DirUnknown},
		{"event", frame.NewCommand(0, true, frame.CommandEvent, []byte{1}), DirUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.f); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		f    *frame.Frame
		want string
	}{
		{"token", frame.NewToken(5, 3), "token 3->5"},
		{"request", frame.NewCommand(2, false, frame.CommandRequest, []byte{businterface.FunctionDSMeterGetDSID}),
			"[DSMeter Get DSID]"},
		{"unknown function", frame.NewCommand(2, false, frame.CommandResponse, []byte{0xEE}),
			"[Function(0xee)]"},
		{"join", frame.NewCommand(0, false, frame.CommandSolicitSuccessorResponse, frame.DefaultDSID.AppendBinary(nil)),
			"[dsid 3504175FE0000000DEADBEEF]"},
		{"set address", frame.NewCommand(0x3F, false, frame.CommandSetDeviceAddressRequest, []byte{7}),
			"[address 7]"},
		{"set successor", frame.NewCommand(7, false, frame.CommandSetSuccessorAddressRequest, []byte{0}),
			"[successor 0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Describe(tt.f); !strings.Contains(got, tt.want) {
				t.Errorf("Describe() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestTally(t *testing.T) {
	var tally Tally
	tally.Add(frame.NewToken(1, 0))
	tally.Add(frame.NewCommand(3, false, frame.CommandRequest, []byte{1}))
	tally.Add(frame.NewCommand(0, false, frame.CommandResponse, []byte{1}))
	tally.Add(frame.NewCommand(0, false, frame.CommandResponse, []byte{1}))

	want := Tally{Frames: 4, TX: 1, RX: 2, Unknown: 1}
	if tally != want {
		t.Errorf("Tally = %+v, want %+v", tally, want)
	}
	if got := tally.String(); got != "frames: 4 (TX: 1  RX: 2  ?: 1)" {
		t.Errorf("String() = %q", got)
	}
}
