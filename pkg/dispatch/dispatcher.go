// Package dispatch fans received frames out to registered listeners.
package dispatch

import (
	"log/slog"
	"sync"

	"ds485d/pkg/frame"
)

// Listener receives the frames matching its filter. HandleFrame runs on the
// controller goroutine and must not block.
type Listener interface {
	Filter() Filter
	HandleFrame(r *frame.Received)
}

type funcListener struct {
	filter Filter
	fn     func(*frame.Received)
}

func (l *funcListener) Filter() Filter                { return l.filter }
func (l *funcListener) HandleFrame(r *frame.Received) { l.fn(r) }

// Func adapts fn to a Listener for long-lived callbacks.
func Func(filter Filter, fn func(*frame.Received)) Listener {
	return &funcListener{filter: filter, fn: fn}
}

// Dispatcher holds the current listener set. Registration and delivery
// may run concurrently.
type Dispatcher struct {
	log *slog.Logger

	mu   sync.RWMutex
	regs map[uint64]*Registration
	next uint64
}

// New returns an empty Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		log:  logger,
		regs: make(map[uint64]*Registration),
	}
}

// Registration keeps a listener attached until Release is called.
type Registration struct {
	d    *Dispatcher
	id   uint64
	l    Listener
	once sync.Once
}

// Release detaches the listener. It is safe to call more than once and
// from inside HandleFrame.
func (r *Registration) Release() {
	r.once.Do(func() {
		r.d.mu.Lock()
		delete(r.d.regs, r.id)
		r.d.mu.Unlock()
	})
}

// Register attaches l and returns the handle that detaches it.
func (d *Dispatcher) Register(l Listener) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := &Registration{d: d, id: d.next, l: l}
	d.next++
	d.regs[r.id] = r
	return r
}

// Deliver hands r to every listener whose filter matches. The listener set
// is snapshotted first so listeners can register or release while being
// called.
func (d *Dispatcher) Deliver(r *frame.Received) {
	d.mu.RLock()
	targets := make([]Listener, 0, len(d.regs))
	for _, reg := range d.regs {
		if reg.l.Filter().Match(r) {
			targets = append(targets, reg.l)
		}
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		d.log.Debug("frame unclaimed", "frame", r.Frame)
		return
	}
	for _, l := range targets {
		l.HandleFrame(r)
	}
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}
