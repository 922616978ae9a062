package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loopback is an in-memory multi-drop bus for tests and simulations.
// Every byte written by one port is received by all other ports.
type Loopback struct {
	mu     sync.RWMutex
	closed bool
	ports  map[*LoopbackPort]struct{}
}

// NewLoopback creates an empty bus.
func NewLoopback() *Loopback {
	return &Loopback{ports: make(map[*LoopbackPort]struct{})}
}

// Open attaches a new port to the bus.
func (b *Loopback) Open() *LoopbackPort {
	p := &LoopbackPort{
		bus:    b,
		ch:     make(chan byte, 4096),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		p.dead = true
		close(p.closed)
		return p
	}
	b.ports[p] = struct{}{}
	return p
}

// Inject puts raw bytes on the bus as if sent by a foreign station.
func (b *Loopback) Inject(data []byte) {
	for _, p := range b.targets(nil) {
		for _, c := range data {
			p.deliver(c)
		}
	}
}

// Close detaches every port.
func (b *Loopback) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for p := range b.ports {
		p.closeLocked()
	}
	b.ports = nil
	return nil
}

func (b *Loopback) targets(from *LoopbackPort) []*LoopbackPort {
	b.mu.RLock()
	defer b.mu.RUnlock()
	targets := make([]*LoopbackPort, 0, len(b.ports))
	for p := range b.ports {
		if p != from {
			targets = append(targets, p)
		}
	}
	return targets
}

// LoopbackPort is one station's connection to a Loopback bus.
type LoopbackPort struct {
	bus     *Loopback
	ch      chan byte
	mu      sync.Mutex
	dead    bool
	closed  chan struct{}
	overrun atomic.Uint64
}

func (p *LoopbackPort) deliver(c byte) {
	select {
	case p.ch <- c:
	default:
		p.overrun.Add(1)
	}
}

func (p *LoopbackPort) ReceiveByte(timeout time.Duration) (byte, bool, error) {
	select {
	case c := <-p.ch:
		return c, true, nil
	case <-p.closed:
		return 0, false, &Error{Op: "read", Err: ErrClosed}
	default:
	}
	if timeout <= 0 {
		return 0, false, nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c := <-p.ch:
		return c, true, nil
	case <-p.closed:
		return 0, false, &Error{Op: "read", Err: ErrClosed}
	case <-t.C:
		return 0, false, nil
	}
}

func (p *LoopbackPort) WriteByte(c byte) error {
	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return &Error{Op: "write", Err: ErrClosed}
	}
	for _, t := range p.bus.targets(p) {
		t.deliver(c)
	}
	return nil
}

// Overruns returns the number of bytes dropped because the port's
// receive buffer was full.
func (p *LoopbackPort) Overruns() uint64 {
	return p.overrun.Load()
}

func (p *LoopbackPort) Close() error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *LoopbackPort) closeLocked() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return
	}
	p.dead = true
	close(p.closed)
	if p.bus.ports != nil {
		delete(p.bus.ports, p)
	}
}
