// Package businterface turns request/response exchanges with bus meters
// into blocking calls on top of the controller and dispatcher.
package businterface

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ds485d/pkg/controller"
	"ds485d/pkg/dispatch"
	"ds485d/pkg/frame"
)

// DefaultTimeout bounds how long a call waits for each response frame.
const DefaultTimeout = 1000 * time.Millisecond

// Controller is the part of the arbitration controller the proxy needs.
type Controller interface {
	EnqueueFrame(f *frame.Frame) error
	State() controller.State
	IsReady() bool
}

// Proxy issues requests on the bus and waits for their responses.
type Proxy struct {
	ctrl    Controller
	disp    *dispatch.Dispatcher
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[dispatch.Filter]*filterLock
}

// filterLock is a one-slot semaphore shared by calls with the same filter.
type filterLock struct {
	sem  chan struct{}
	refs int
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Proxy) { p.logger = l }
}

// New returns a proxy sending through ctrl and receiving through disp.
func New(ctrl Controller, disp *dispatch.Dispatcher, opts ...Option) *Proxy {
	p := &Proxy{
		ctrl:    ctrl,
		disp:    disp,
		timeout: DefaultTimeout,
		locks:   make(map[dispatch.Filter]*filterLock),
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

func (p *Proxy) IsReady() bool { return p.ctrl.IsReady() }

func (p *Proxy) State() controller.State { return p.ctrl.State() }

// SendFrame queues f for transmission without waiting for an answer.
func (p *Proxy) SendFrame(f *frame.Frame) error {
	if err := p.ctrl.EnqueueFrame(f); err != nil {
		return fmt.Errorf("businterface: send: %w", err)
	}
	return nil
}

// RegisterFrameBucket attaches b to the dispatcher.
func (p *Proxy) RegisterFrameBucket(b *dispatch.Bucket) { b.Register() }

// UnregisterFrameBucket detaches b from the dispatcher.
func (p *Proxy) UnregisterFrameBucket(b *dispatch.Bucket) { b.Unregister() }

// SendFrameAndInstallBucket registers a bucket for responses carrying
// functionID from f's destination (any source for broadcasts), then sends
// f. The caller owns the bucket and must Close it.
func (p *Proxy) SendFrameAndInstallBucket(f *frame.Frame, functionID FunctionID) (*dispatch.Bucket, error) {
	b := dispatch.NewBucket(p.disp, responseFilter(f, functionID))
	b.Register()
	if err := p.SendFrame(f); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func responseFilter(f *frame.Frame, functionID FunctionID) dispatch.Filter {
	src := dispatch.FromStation(f.Header.Destination)
	if f.Header.Broadcast {
		src = dispatch.AnySource()
	}
	return dispatch.Filter{FunctionID: functionID, Source: src}
}

// lockFilter serializes calls that would install identical buckets. It
// gives up after timeout and reports false.
func (p *Proxy) lockFilter(f dispatch.Filter, timeout time.Duration) (unlock func(), ok bool) {
	p.mu.Lock()
	l, found := p.locks[f]
	if !found {
		l = &filterLock{sem: make(chan struct{}, 1)}
		p.locks[f] = l
	}
	l.refs++
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, f)
		}
		p.mu.Unlock()
	}

	select {
	case l.sem <- struct{}{}:
	default:
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case l.sem <- struct{}{}:
		case <-t.C:
			release()
			return nil, false
		}
	}
	return func() {
		<-l.sem
		release()
	}, true
}

// call describes one request/response exchange.
type call struct {
	op      string
	req     *frame.Frame
	fid     FunctionID // function id of the expected responses
	timeout time.Duration
	want    int  // number of frames to wait for
	collect bool // gather every frame until timeout instead
}

// reply is the outcome of an exchange. It keeps what an error raised
// while decoding the frames needs to report.
type reply struct {
	c      call
	frames []*frame.Received
	start  time.Time
	id     uuid.UUID
}

func (r *reply) fail(err error) *BusError {
	return &BusError{
		Op:            r.c.op,
		FunctionID:    r.c.fid,
		Target:        r.c.req.Header.Destination,
		Broadcast:     r.c.req.Header.Broadcast,
		Elapsed:       time.Since(r.start),
		CorrelationID: r.id,
		Err:           err,
	}
}

// badResponse reports a frame that arrived but could not be decoded.
func (r *reply) badResponse(err error) error {
	return r.fail(fmt.Errorf("%w: %v", ErrBadResponse, err))
}

// exchange sends c.req and waits for c.want responses, or gathers frames
// for c.timeout when c.collect is set. Waiting behind an identical call
// counts toward the first wait.
func (p *Proxy) exchange(c call) (*reply, error) {
	if c.timeout <= 0 {
		c.timeout = p.timeout
	}
	if c.want <= 0 {
		c.want = 1
	}
	filter := responseFilter(c.req, c.fid)

	var opts []dispatch.BucketOption
	if c.want == 1 && !c.collect {
		opts = append(opts, dispatch.SingleShot())
	}
	b := dispatch.NewBucket(p.disp, filter, opts...)
	rep := &reply{c: c, start: time.Now(), id: b.CorrelationID()}

	unlock, ok := p.lockFilter(filter, c.timeout)
	if !ok {
		p.logger.Debug("bus call timed out waiting for an identical call",
			"op", c.op, "filter", filter, "id", rep.id)
		return rep, rep.fail(ErrTimeout)
	}
	defer unlock()

	b.Register()
	defer b.Close()
	if err := p.ctrl.EnqueueFrame(c.req); err != nil {
		return rep, rep.fail(err)
	}

	deadline := rep.start.Add(c.timeout)
	if c.collect {
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 || !b.WaitForFrame(remaining) {
				break
			}
			for r := b.PopFrame(); r != nil; r = b.PopFrame() {
				rep.frames = append(rep.frames, r)
			}
		}
	} else {
		for len(rep.frames) < c.want {
			wait := c.timeout
			if len(rep.frames) == 0 {
				wait = time.Until(deadline)
			}
			if !b.WaitForFrame(wait) {
				p.logger.Debug("bus call timed out",
					"op", c.op, "filter", filter, "id", rep.id, "got", len(rep.frames))
				return rep, rep.fail(ErrTimeout)
			}
			rep.frames = append(rep.frames, b.PopFrame())
		}
	}
	p.logger.Debug("bus call done",
		"op", c.op, "filter", filter, "id", rep.id,
		"frames", len(rep.frames), "elapsed", time.Since(rep.start))
	return rep, nil
}

func request(dest frame.StationID, pl *frame.Payload) *frame.Frame {
	return frame.NewCommand(dest, false, frame.CommandRequest, pl.Bytes())
}

// single sends a request built from pl and returns a dissector positioned
// after the function id of the one response.
func (p *Proxy) single(op string, dest frame.StationID, pl *frame.Payload) (*frame.Dissector, *reply, error) {
	req := request(dest, pl)
	rep, err := p.exchange(call{op: op, req: req, fid: req.Payload[0]})
	if err != nil {
		return nil, nil, err
	}
	d := frame.NewDissector(rep.frames[0].Frame.Payload)
	d.Uint8()
	return d, rep, nil
}

// result8 reads the signed one-byte result of a request.
func (p *Proxy) result8(op string, dest frame.StationID, pl *frame.Payload) (int, error) {
	d, rep, err := p.single(op, dest, pl)
	if err != nil {
		return 0, err
	}
	v := int(d.Int8())
	if err := d.Err(); err != nil {
		return 0, rep.badResponse(err)
	}
	return v, nil
}

// result16 reads the signed two-byte result of a request.
func (p *Proxy) result16(op string, dest frame.StationID, pl *frame.Payload) (int, error) {
	d, rep, err := p.single(op, dest, pl)
	if err != nil {
		return 0, err
	}
	v := int(d.Int16())
	if err := d.Err(); err != nil {
		return 0, rep.badResponse(err)
	}
	return v, nil
}

// checked wraps result16/result8 output so negative codes become *APIError.
func checked(v int, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	if err := CheckResult(v); err != nil {
		return 0, err
	}
	return v, nil
}
