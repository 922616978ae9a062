// Package controller runs the DS485 token-passing arbitration protocol.
//
// A Controller owns the transport for writing and a reader goroutine for
// receiving. Exactly one goroutine, the one calling Run, drives the state
// machine and writes to the wire; every other method is safe for
// concurrent use.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ds485d/pkg/frame"
	"ds485d/pkg/reader"
	"ds485d/pkg/transport"
)

var (
	// ErrArbitrationFailed is returned by Run after MaxRetries consecutive
	// failures to take part in the ring.
	ErrArbitrationFailed = errors.New("controller: bus arbitration failed")
	// ErrNotCommandFrame is returned by EnqueueFrame for tokens.
	ErrNotCommandFrame = errors.New("controller: only command frames can be queued")
)

// Sink receives every application frame addressed to this node.
type Sink interface {
	Deliver(r *frame.Received)
}

// Tracer observes every frame sent or received.
type Tracer interface {
	Trace(tx bool, at time.Time, f *frame.Frame)
}

// stateFunc performs one bounded step of a state.
type stateFunc func(c *Controller, ctx context.Context) error

// handlers has one entry per State.
var handlers = [numStates]stateFunc{
	Initial:                   (*Controller).runInitial,
	Sensing:                   (*Controller).runSensing,
	BroadcastingStationID:     (*Controller).runBroadcasting,
	Master:                    (*Controller).runMaster,
	SlaveWaitingToJoin:        (*Controller).runWaitingToJoin,
	SlaveJoining:              (*Controller).runJoining,
	Slave:                     (*Controller).runSlave,
	SlaveWaitingForFirstToken: (*Controller).runWaitingForFirstToken,
	Error:                     (*Controller).runError,
}

// Controller is one station on the bus.
type Controller struct {
	cfg    Config
	port   transport.Port
	rd     *reader.Reader
	sink   Sink
	tracer Tracer
	log    *slog.Logger

	state      atomic.Int32
	station    atomic.Uint32
	tokenCount atomic.Int64

	// Owned by the Run goroutine.
	successor    frame.StationID
	ring         []frame.StationID
	counter      uint8
	failures     int
	failReason   string
	joinSkip     int
	deadline     time.Time
	lastSolicit  time.Time
	senseBytes   uint64
	checksumBase uint64

	rx      chan *frame.Received
	readErr chan error
	kick    chan struct{}

	qmu   sync.Mutex
	queue []*frame.Frame

	tokenSig signal
	cmdSig   signal
	stateSig signal
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger for state changes and protocol events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithTracer installs a tracer for every transmitted and received frame.
func WithTracer(t Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// New returns a controller that reads frames with rd, writes to port and
// hands application frames to sink.
func New(cfg Config, port transport.Port, rd *reader.Reader, sink Sink, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg.withDefaults(),
		port:      port,
		rd:        rd,
		sink:      sink,
		log:       slog.Default(),
		successor: frame.Unassigned,
		joinSkip:  -1,
		rx:        make(chan *frame.Received, 64),
		readErr:   make(chan error, 1),
		kick:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	c.station.Store(uint32(frame.Unassigned))
	return c
}

// Run drives the state machine until ctx is done, the transport fails or
// arbitration fails persistently.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.readLoop(ctx)
	}()
	defer wg.Wait()
	defer cancel()

	c.log.Info("controller starting", "dsid", c.cfg.DSID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st := c.State()
		if err := handlers[st](c, ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.Error("controller stopped", "state", st, "err", err)
			return err
		}
		c.checkChecksumErrors()
	}
}

func (c *Controller) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		f, err := c.rd.GetFrame(c.cfg.ReadPoll)
		if err != nil {
			select {
			case c.readErr <- err:
			default:
			}
			return
		}
		if f == nil {
			continue
		}
		r := &frame.Received{Frame: f, TokenCounter: int(c.tokenCount.Load()), At: time.Now()}
		select {
		case c.rx <- r:
		case <-ctx.Done():
			return
		}
	}
}

// EnqueueFrame queues a copy of f for transmission the next time this
// node holds the token. The source and counter are filled in when it is
// sent. It never blocks.
func (c *Controller) EnqueueFrame(f *frame.Frame) error {
	if f == nil || f.IsToken() {
		return ErrNotCommandFrame
	}
	q := f.Clone()
	q.Header.Source = 0
	q.Header.Counter = 0
	if err := q.Validate(); err != nil {
		return err
	}
	c.qmu.Lock()
	c.queue = append(c.queue, q)
	c.qmu.Unlock()
	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// QueueLen returns the number of frames waiting for the token.
func (c *Controller) QueueLen() int {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return len(c.queue)
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// IsReady reports whether the node is part of the token ring.
func (c *Controller) IsReady() bool {
	return c.State().Ready()
}

// StationID returns the assigned address or frame.Unassigned.
func (c *Controller) StationID() frame.StationID {
	return frame.StationID(c.station.Load())
}

// TokenCount returns the number of tokens received since joining.
func (c *Controller) TokenCount() int {
	return int(c.tokenCount.Load())
}

// ReaderStats returns the frame reader's counters.
func (c *Controller) ReaderStats() reader.Stats {
	return c.rd.Stats()
}

// WaitForToken blocks until this node next receives the token.
func (c *Controller) WaitForToken(ctx context.Context) error {
	return c.tokenSig.wait(ctx)
}

// WaitForCommandFrame blocks until the next command frame arrives.
func (c *Controller) WaitForCommandFrame(ctx context.Context) error {
	return c.cmdSig.wait(ctx)
}

// WaitForStateChange blocks until the state changes and returns the new
// state.
func (c *Controller) WaitForStateChange(ctx context.Context) (State, error) {
	if err := c.stateSig.wait(ctx); err != nil {
		return c.State(), err
	}
	return c.State(), nil
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	level := slog.LevelInfo
	if isSolicitCycle(old, s) {
		level = slog.LevelDebug
	}
	c.log.Log(context.Background(), level, "state change", "from", old, "to", s, "station", c.StationID())
	if s.Ready() {
		c.failures = 0
	}
	c.stateSig.broadcast()
}

// isSolicitCycle reports whether old to s is the master's periodic switch
// into or out of BroadcastingStationID.
func isSolicitCycle(old, s State) bool {
	return (old == Master && s == BroadcastingStationID) || (old == BroadcastingStationID && s == Master)
}

func (c *Controller) setStation(id frame.StationID) {
	c.station.Store(uint32(id))
}

// fail records reason and enters the Error state.
func (c *Controller) fail(reason string) {
	c.failReason = reason
	c.log.Warn("arbitration failure", "state", c.State(), "reason", reason)
	c.setState(Error)
}

func (c *Controller) checkChecksumErrors() {
	st := c.State()
	if st == Error || st == Initial || st == Sensing {
		return
	}
	s := c.rd.Stats()
	n := uint64(c.cfg.MaxChecksumErrors)
	if s.ChecksumRun >= n && s.ChecksumErrors-c.checksumBase >= n {
		c.fail(fmt.Sprintf("%d consecutive checksum errors", s.ChecksumRun))
	}
}

func (c *Controller) popQueued() *frame.Frame {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	f := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return f
}

func (c *Controller) pushFront(f *frame.Frame) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	c.queue = append([]*frame.Frame{f}, c.queue...)
}

// send stamps f with our address and the rolling counter and puts it on
// the wire.
func (c *Controller) send(f *frame.Frame) error {
	f.Header.Source = c.StationID()
	if !f.IsToken() {
		f.Header.Counter = c.counter
		c.counter = (c.counter + 1) & 0x03
	}
	b, err := frame.EncodeWire(f)
	if err != nil {
		return fmt.Errorf("encode %v: %w", f, err)
	}
	if err := transport.Write(c.port, b); err != nil {
		return transport.Wrap("write", err)
	}
	if c.tracer != nil {
		c.tracer.Trace(true, time.Now(), f)
	}
	return nil
}

func (c *Controller) sendCommand(dest frame.StationID, cmd frame.Command, payload ...byte) error {
	return c.send(frame.NewCommand(dest, false, cmd, payload))
}

func (c *Controller) passToken(dest frame.StationID) error {
	return c.send(frame.NewToken(dest, c.StationID()))
}

// drainQueue sends up to MaxFramesPerToken queued frames while this node
// holds the token. Addressed frames wait for an Ack; a Busy answer puts
// the frame back for the next token.
func (c *Controller) drainQueue(ctx context.Context) error {
	for range c.cfg.MaxFramesPerToken {
		f := c.popQueued()
		if f == nil {
			return nil
		}
		if err := c.send(f); err != nil {
			return err
		}
		if f.Header.Broadcast {
			continue
		}
		dest := f.Header.Destination
		r, err := c.await(ctx, c.cfg.AckTimeout, func(g *frame.Frame) bool {
			if g.IsToken() || g.Header.Source != dest {
				return false
			}
			return g.Command == frame.CommandAck || g.Command == frame.CommandBusy || g.Command == frame.CommandResponse
		})
		if err != nil {
			return err
		}
		switch {
		case r == nil:
			c.log.Debug("no ack", "frame", f)
		case r.Frame.Command == frame.CommandBusy:
			c.log.Debug("peer busy", "frame", f)
			c.pushFront(f)
			return nil
		case r.Frame.Command == frame.CommandResponse:
			if err := c.observe(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// await waits up to d for a frame accepted by match. Frames that do not
// match are handled by observe. It returns nil when d elapses.
func (c *Controller) await(ctx context.Context, d time.Duration, match func(*frame.Frame) bool) (*frame.Received, error) {
	return c.awaitOr(ctx, d, match, nil)
}

// awaitOr is await that also returns early, with nil, when wake fires.
func (c *Controller) awaitOr(ctx context.Context, d time.Duration, match func(*frame.Frame) bool, wake <-chan struct{}) (*frame.Received, error) {
	if d <= 0 {
		d = time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-c.readErr:
			return nil, err
		case <-t.C:
			return nil, nil
		case <-wake:
			return nil, nil
		case r := <-c.rx:
			if c.tracer != nil {
				c.tracer.Trace(false, r.At, r.Frame)
			}
			if c.isEcho(r.Frame) {
				continue
			}
			if !r.Frame.IsToken() {
				c.cmdSig.broadcast()
			}
			if match != nil && match(r.Frame) {
				return r, nil
			}
			if err := c.observe(r); err != nil {
				return nil, err
			}
		}
	}
}

func (c *Controller) isEcho(f *frame.Frame) bool {
	id := c.StationID()
	return id != frame.Unassigned && id != frame.JoiningStation && f.Header.Source == id
}

func isArbitration(cmd frame.Command) bool {
	switch cmd {
	case frame.CommandRequest, frame.CommandResponse, frame.CommandEvent, frame.CommandBusy:
		return false
	}
	return true
}

// observe handles frames every state must act on: address probes,
// successor updates, acknowledgements and dispatch of application frames.
func (c *Controller) observe(r *frame.Received) error {
	f := r.Frame
	if f.IsToken() {
		return nil
	}
	id := c.StationID()
	toUs := id != frame.Unassigned && f.Header.Destination == id && !f.Header.Broadcast

	switch f.Command {
	case frame.CommandGetAddressRequest:
		if toUs && id != frame.JoiningStation {
			c.log.Debug("address probe", "from", f.Header.Source)
			return c.sendCommand(f.Header.Source, frame.CommandGetAddressResponse)
		}
	case frame.CommandSetDeviceAddressRequest:
		if c.State() == SlaveJoining && toUs && len(f.Payload) > 0 {
			return c.handleSetAddress(frame.StationID(f.Payload[0]))
		}
	case frame.CommandSetSuccessorAddressRequest:
		if toUs && c.isSlaveRole() && len(f.Payload) > 0 {
			return c.handleSetSuccessor(frame.StationID(f.Payload[0]))
		}
	case frame.CommandSolicitSuccessorRequest, frame.CommandSolicitSuccessorRequestLong:
		if st := c.State(); (st == Master || st == BroadcastingStationID) && f.Header.Source != id {
			c.fail(fmt.Sprintf("second master at station %s", f.Header.Source))
		}
	}

	if isArbitration(f.Command) || !(f.Header.Broadcast || toUs) {
		return nil
	}
	if toUs && f.Command != frame.CommandBusy && c.State() != SlaveJoining {
		if err := c.sendCommand(f.Header.Source, frame.CommandAck); err != nil {
			return err
		}
	}
	if c.sink != nil {
		c.sink.Deliver(r)
	}
	return nil
}

func (c *Controller) isSlaveRole() bool {
	switch c.State() {
	case SlaveJoining, SlaveWaitingForFirstToken, Slave:
		return true
	}
	return false
}

func (c *Controller) runInitial(ctx context.Context) error {
	c.setStation(frame.Unassigned)
	c.successor = frame.Unassigned
	c.ring = nil
	c.joinSkip = -1
	c.tokenCount.Store(0)
	window := c.cfg.SenseWindow
	if c.cfg.SenseJitter > 0 {
		window += randDuration(c.cfg.SenseJitter)
	}
	c.deadline = time.Now().Add(window)
	s := c.rd.Stats()
	c.senseBytes = s.BytesReceived
	c.checksumBase = s.ChecksumErrors
	c.log.Debug("sensing", "window", window)
	c.setState(Sensing)
	return nil
}

func (c *Controller) runSensing(ctx context.Context) error {
	r, err := c.await(ctx, time.Until(c.deadline), func(*frame.Frame) bool { return true })
	if err != nil {
		return err
	}
	if r != nil {
		if err := c.observe(r); err != nil {
			return err
		}
	}
	if r != nil || c.rd.Stats().BytesReceived != c.senseBytes {
		c.log.Info("traffic on the bus, joining")
		c.deadline = time.Now().Add(c.cfg.JoinTimeout)
		c.setState(SlaveWaitingToJoin)
		return nil
	}
	if time.Now().Before(c.deadline) {
		return nil
	}
	c.log.Info("bus is silent, taking over as master")
	c.setStation(frame.MasterStation)
	c.ring = []frame.StationID{frame.MasterStation}
	c.successor = frame.MasterStation
	c.lastSolicit = time.Time{}
	c.setState(Master)
	return nil
}

func (c *Controller) runError(ctx context.Context) error {
	c.failures++
	if c.failures > c.cfg.MaxRetries {
		c.log.Error("giving up", "failures", c.failures, "reason", c.failReason)
		return fmt.Errorf("%w: %s", ErrArbitrationFailed, c.failReason)
	}
	t := time.NewTimer(c.cfg.ErrorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	c.setState(Initial)
	return nil
}
