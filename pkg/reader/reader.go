// Package reader reassembles frames from the raw bus byte stream.
package reader

import (
	"log/slog"
	"time"

	"ds485d/pkg/frame"
	"ds485d/pkg/transport"
)

// State is the position of the reader within the current frame.
type State int

const (
	Synchronizing State = iota
	ReadingHeader
	ReadingPacket
	ReadingChecksum
)

func (s State) String() string {
	switch s {
	case Synchronizing:
		return "Synchronizing"
	case ReadingHeader:
		return "ReadingHeader"
	case ReadingPacket:
		return "ReadingPacket"
	case ReadingChecksum:
		return "ReadingChecksum"
	}
	return "State(?)"
}

// DflFrameTimeout is the longest gap tolerated inside a frame before the
// partial frame is abandoned.
const DflFrameTimeout = 100 * time.Millisecond

// Reader turns bytes from a transport.Port into frames. GetFrame and
// SenseTraffic must be called from one goroutine; Stats may be called
// from any.
type Reader struct {
	port         transport.Port
	frameTimeout time.Duration
	log          *slog.Logger

	state    State
	buf      []byte
	need     int
	escaped  bool
	lastByte time.Time

	cnt counters
}

// New returns a Reader on port. A zero frameTimeout selects
// DflFrameTimeout.
func New(port transport.Port, frameTimeout time.Duration, logger *slog.Logger) *Reader {
	if frameTimeout <= 0 {
		frameTimeout = DflFrameTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		port:         port,
		frameTimeout: frameTimeout,
		log:          logger,
		buf:          make([]byte, 0, frame.HeaderLen+1+frame.MaxPayload+2),
	}
}

// State returns the parser state. It is only meaningful to the goroutine
// calling GetFrame.
func (r *Reader) State() State {
	return r.state
}

// GetFrame returns the next complete, valid frame, or nil if none arrives
// within timeout. A partial frame survives across calls unless its last
// byte is older than the frame timeout when the budget runs out. Only
// transport failures are returned as errors.
func (r *Reader) GetFrame(timeout time.Duration) (*frame.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		c, ok, err := r.port.ReceiveByte(remaining)
		if err != nil {
			return nil, transport.Wrap("read", err)
		}
		if !ok {
			break
		}
		r.lastByte = time.Now()
		r.cnt.Inc(CntBytesReceived)
		if f := r.feed(c); f != nil {
			return f, nil
		}
		if !r.lastByte.Before(deadline) {
			break
		}
	}
	if r.state != Synchronizing && time.Since(r.lastByte) >= r.frameTimeout {
		r.log.Debug("abandoning partial frame", "state", r.state, "bytes", len(r.buf))
		r.cnt.Inc(CntIncompleteFrames)
		r.reset()
	}
	return nil, nil
}

// SenseTraffic listens for up to timeout and reports whether any byte was
// seen. Received bytes are parsed as usual so a frame in flight is not
// lost.
func (r *Reader) SenseTraffic(timeout time.Duration) (bool, error) {
	c, ok, err := r.port.ReceiveByte(timeout)
	if err != nil {
		return false, transport.Wrap("read", err)
	}
	if !ok {
		return false, nil
	}
	r.lastByte = time.Now()
	r.cnt.Inc(CntBytesReceived)
	r.feed(c)
	return true, nil
}

// Stats returns a snapshot of the counters.
func (r *Reader) Stats() Stats {
	ca := r.cnt.GetAll()
	return Stats{
		FramesReceived:   ca[CntFramesReceived],
		IncompleteFrames: ca[CntIncompleteFrames],
		ChecksumErrors:   ca[CntChecksumErrors],
		FramingErrors:    ca[CntFramingErrors],
		BytesReceived:    ca[CntBytesReceived],
		ChecksumRun:      ca[CntChecksumRun],
	}
}

func (r *Reader) reset() {
	r.state = Synchronizing
	r.buf = r.buf[:0]
	r.need = 0
	r.escaped = false
}

// feed advances the parser by one wire byte and returns a frame when one
// completes.
func (r *Reader) feed(c byte) *frame.Frame {
	if c == frame.FrameStart {
		if r.state != Synchronizing {
			r.cnt.Inc(CntIncompleteFrames)
		}
		r.reset()
		r.buf = append(r.buf, c)
		r.state = ReadingHeader
		return nil
	}
	if r.state == Synchronizing {
		return nil
	}
	if c == frame.Escape {
		if r.escaped {
			r.cnt.Inc(CntFramingErrors)
			r.reset()
			return nil
		}
		r.escaped = true
		return nil
	}
	if r.escaped {
		c |= 0x80
		r.escaped = false
	}
	r.buf = append(r.buf, c)

	switch r.state {
	case ReadingHeader:
		if len(r.buf) == frame.HeaderLen && frame.Type(r.buf[1]&0x01) == frame.TypeToken {
			return r.complete()
		}
		if len(r.buf) == frame.HeaderLen+1 {
			r.need = len(r.buf) + int(c&0x0F)
			if r.need == len(r.buf) {
				r.state = ReadingChecksum
			} else {
				r.state = ReadingPacket
			}
		}
	case ReadingPacket:
		if len(r.buf) == r.need {
			r.state = ReadingChecksum
		}
	case ReadingChecksum:
		if len(r.buf) == r.need+2 {
			want := uint16(r.buf[r.need]) | uint16(r.buf[r.need+1])<<8
			if got := frame.Checksum(r.buf[:r.need]); got != want {
				r.log.Debug("checksum mismatch", "got", got, "want", want)
				r.cnt.Inc(CntChecksumErrors)
				r.cnt.Inc(CntChecksumRun)
				r.reset()
				return nil
			}
			return r.complete()
		}
	}
	return nil
}

func (r *Reader) complete() *frame.Frame {
	f, err := frame.DecodeFrame(r.buf)
	r.reset()
	if err != nil {
		r.cnt.Inc(CntFramingErrors)
		return nil
	}
	r.cnt.Inc(CntFramesReceived)
	r.cnt.Rst(CntChecksumRun)
	return f
}
