// Package transport moves raw bytes to and from the bus.
package transport

import (
	"errors"
	"time"
)

// ErrClosed is returned by ports that have been closed.
var ErrClosed = errors.New("transport: port closed")

// Port is a byte-oriented, half-duplex bus connection.
type Port interface {
	// ReceiveByte waits up to timeout for the next byte. ok is false if
	// the timeout elapsed first.
	ReceiveByte(timeout time.Duration) (c byte, ok bool, err error)
	WriteByte(c byte) error
	Close() error
}

// Error wraps a failure of the physical link. It is the only error the
// reader and controller return from their loops.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "transport " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the underlying error is a timeout.
func (e *Error) Timeout() bool {
	type timeout interface {
		Timeout() bool
	}
	t, ok := e.Err.(timeout)
	return ok && t.Timeout()
}

// Wrap returns err as an *Error unless it already is one.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Write writes every byte of b to p.
func Write(p Port, b []byte) error {
	for _, c := range b {
		if err := p.WriteByte(c); err != nil {
			return err
		}
	}
	return nil
}
