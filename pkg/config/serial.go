package config

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"ds485d/pkg/frame"
)

func parseParity(s string) (serial.Parity, error) {
	switch s {
	case "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("invalid parity %q: use none, odd, even, mark, or space", s)
	}
}

func parseStopBits(n int) (serial.StopBits, error) {
	switch n {
	case 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("invalid stop bits %d: use 1 or 2", n)
	}
}

// Mode returns the serial port settings.
func (s SerialConfig) Mode() (*serial.Mode, error) {
	parity, err := parseParity(s.Parity)
	if err != nil {
		return nil, err
	}
	stopbits, err := parseStopBits(s.StopBits)
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: s.Baud,
		DataBits: s.DataBits,
		Parity:   parity,
		StopBits: stopbits,
	}, nil
}

// charBits returns the total number of bits per character on the wire
// (start + data + optional parity + stop).
func (s SerialConfig) charBits() int {
	bits := 1 + s.DataBits
	if s.Parity != "none" {
		bits++
	}
	return bits + s.StopBits
}

// adapterMargin absorbs USB serial adapter latency.
const adapterMargin = 25 * time.Millisecond

// maxWireFrame is the longest frame on the wire: every byte after the
// start marker escaped.
const maxWireFrame = 1 + 2*(frame.HeaderLen-1+1+frame.MaxPayload+2)

// GetFrameTimeout returns FrameTimeout, or when unset the wire time of
// the longest frame plus adapterMargin.
func (s SerialConfig) GetFrameTimeout() time.Duration {
	if s.FrameTimeout > 0 {
		return s.FrameTimeout
	}
	wire := float64(maxWireFrame*s.charBits()) / float64(s.Baud)
	return time.Duration(wire*float64(time.Second)) + adapterMargin
}
