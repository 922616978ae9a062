package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Mode holds the line settings of a serial port.
type Mode = serial.Mode

// Serial is a Port on a local serial device.
type Serial struct {
	port    serial.Port
	device  string
	timeout time.Duration

	mu  sync.Mutex
	buf [256]byte
	pos int
	n   int
}

// OpenSerial opens device with the given line settings.
func OpenSerial(device string, mode *Mode) (*Serial, error) {
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("%s: %w", device, err)}
	}
	if err := p.ResetInputBuffer(); err != nil {
		_ = p.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	return &Serial{port: p, device: device, timeout: -1}, nil
}

// ReceiveByte serves bytes from an internal buffer and refills it with a
// single read bounded by timeout.
func (s *Serial) ReceiveByte(timeout time.Duration) (byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < s.n {
		c := s.buf[s.pos]
		s.pos++
		return c, true, nil
	}
	if timeout < 0 {
		timeout = 0
	}
	if timeout != s.timeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			return 0, false, &Error{Op: "read", Err: err}
		}
		s.timeout = timeout
	}
	n, err := s.port.Read(s.buf[:])
	if err != nil {
		return 0, false, &Error{Op: "read", Err: err}
	}
	if n == 0 {
		return 0, false, nil
	}
	s.pos, s.n = 1, n
	return s.buf[0], true, nil
}

func (s *Serial) WriteByte(c byte) error {
	if _, err := s.port.Write([]byte{c}); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

func (s *Serial) Close() error {
	return s.port.Close()
}

func (s *Serial) String() string {
	return s.device
}
