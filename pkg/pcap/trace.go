package pcap

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"ds485d/pkg/decoder"
	"ds485d/pkg/frame"
)

// RTACHeaderLen is the size of the RTAC serial pseudo-header.
const RTACHeaderLen = 12

// RTACHeader builds a 12-byte RTAC Serial header (big-endian) for the given
// timestamp and event type.
func RTACHeader(ts time.Time, eventType decoder.Direction) []byte {
	hdr := make([]byte, RTACHeaderLen)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(ts.Unix()))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(ts.Nanosecond()/1000))
	hdr[8] = byte(eventType)
	return hdr
}

// Counts summarizes what a Trace has written.
type Counts struct {
	Packets int
	TX      int
	RX      int
}

// Trace records every frame the controller sends or receives, one packet
// per frame in its escaped wire form. Once the reader of a pipe goes away
// the trace stops writing.
type Trace struct {
	logger *slog.Logger

	mu     sync.Mutex
	w      *Writer
	counts Counts
	broken bool
	done   chan struct{}
}

// NewTrace returns a trace writing to w.
func NewTrace(w *Writer, logger *slog.Logger) *Trace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trace{w: w, logger: logger, done: make(chan struct{})}
}

// Trace implements controller.Tracer.
func (t *Trace) Trace(tx bool, at time.Time, f *frame.Frame) {
	data, err := frame.EncodeWire(f)
	if err != nil {
		t.logger.Warn("trace: cannot encode frame", "frame", f, "err", err)
		return
	}
	dir := decoder.DirRX
	if tx {
		dir = decoder.DirTX
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken {
		return
	}
	if t.w.LinkType() == DLTRTACSer {
		data = append(RTACHeader(at, dir), data...)
	}
	if err := t.w.WritePacket(at, data); err != nil {
		if errors.Is(err, syscall.EPIPE) {
			t.logger.Info("pipe closed by reader")
			t.broken = true
			close(t.done)
			return
		}
		t.logger.Warn("write packet", "err", err)
		return
	}
	t.counts.Packets++
	if tx {
		t.counts.TX++
	} else {
		t.counts.RX++
	}
}

// Counts returns the packets written so far.
func (t *Trace) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// Done is closed when the trace stops because its reader went away.
func (t *Trace) Done() <-chan struct{} { return t.done }
