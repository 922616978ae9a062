package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"ds485d/pkg/frame"
	"ds485d/pkg/reader"
	"ds485d/pkg/transport"
)

func slaveConfig() Config {
	cfg := testConfig()
	cfg.SenseWindow = 400 * time.Millisecond
	return cfg
}

func startMaster(t *testing.T, bus *transport.Loopback, cfg Config, opts ...Option) (*Controller, context.CancelFunc) {
	t.Helper()
	c := newController(t, bus, cfg, nil, opts...)
	_, cancel := run(t, c)
	waitForState(t, c, Master, time.Second)
	return c, cancel
}

func isTokenTo(id frame.StationID) func(*frame.Frame) bool {
	return func(f *frame.Frame) bool { return f.IsToken() && f.Header.Destination == id }
}

func isCommandTo(id frame.StationID, cmd frame.Command) func(*frame.Frame) bool {
	return func(f *frame.Frame) bool {
		return !f.IsToken() && f.Command == cmd && f.Header.Destination == id
	}
}

func indexOf(frames []*frame.Frame, from int, match func(*frame.Frame) bool) int {
	for i := from; i < len(frames); i++ {
		if match(frames[i]) {
			return i
		}
	}
	return -1
}

func TestMasterRebuildsRingAfterTokenLoss(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	rec := &recorder{}
	master, _ := startMaster(t, bus, testConfig(), WithTracer(rec))
	slave, slavePort := newStation(t, bus, slaveConfig(), nil)
	start(t, slave)
	waitForState(t, slave, Slave, 5*time.Second)
	id := slave.StationID()

	from := len(rec.sent())
	_ = slavePort.Close()

	getAddr := isCommandTo(id, frame.CommandGetAddressRequest)
	waitFor(t, 3*time.Second, "address request to the silent station", func() bool {
		return indexOf(rec.sent(), from, getAddr) >= 0
	})
	sent := rec.sent()
	i := indexOf(sent, from, getAddr)
	if i < 2 || !isTokenTo(id)(sent[i-1]) || !isTokenTo(id)(sent[i-2]) {
		t.Fatalf("frames before address request = %v, want the token sent twice to %s", sent[from:i], id)
	}

	time.Sleep(100 * time.Millisecond)
	settled := len(rec.sent())
	time.Sleep(300 * time.Millisecond)
	if j := indexOf(rec.sent(), settled, isTokenTo(id)); j >= 0 {
		t.Errorf("token still passed to %s after the ring was rebuilt", id)
	}
	if !master.IsReady() {
		t.Errorf("master state = %s after rebuilding the ring, want ready", master.State())
	}
}

func TestSlaveTokenTimeout(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	_, stopMaster := startMaster(t, bus, testConfig())
	cfg := slaveConfig()
	cfg.TokenTimeout = 300 * time.Millisecond
	cfg.ErrorBackoff = 5 * time.Second
	slave := newController(t, bus, cfg, nil)
	start(t, slave)
	waitForState(t, slave, Slave, 5*time.Second)

	stopMaster()
	waitForState(t, slave, Error, 2*time.Second)
	if slave.IsReady() {
		t.Error("IsReady() = true after token timeout")
	}
}

func TestChecksumErrorsForceError(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	cfg := testConfig()
	cfg.MaxChecksumErrors = 3
	cfg.ErrorBackoff = 5 * time.Second
	c, _ := startMaster(t, bus, cfg)

	f := frame.NewCommand(4, false, frame.CommandRequest, []byte{0x01, 0x02})
	f.Header.Source = 9
	bad, err := frame.EncodeWire(f)
	if err != nil {
		t.Fatalf("EncodeWire: %v", err)
	}
	bad[4] ^= 0x10 // first payload byte
	var storm []byte
	for range cfg.MaxChecksumErrors {
		storm = append(storm, bad...)
	}
	bus.Inject(storm)

	waitForState(t, c, Error, time.Second)
	if n := c.ReaderStats().ChecksumErrors; n < uint64(cfg.MaxChecksumErrors) {
		t.Errorf("ChecksumErrors = %d, want at least %d", n, cfg.MaxChecksumErrors)
	}
}

func TestSecondMasterDetected(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	cfg := testConfig()
	cfg.ErrorBackoff = 5 * time.Second
	c, _ := startMaster(t, bus, cfg)

	solicit := frame.NewCommand(0, true, frame.CommandSolicitSuccessorRequest, nil)
	solicit.Header.Source = 5
	b, err := frame.EncodeWire(solicit)
	if err != nil {
		t.Fatalf("EncodeWire: %v", err)
	}
	bus.Inject(b)

	waitForState(t, c, Error, time.Second)
}

func TestBusyRequeuesFrame(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	cfg := testConfig()
	cfg.AckTimeout = 500 * time.Millisecond
	c := newController(t, bus, cfg, nil)
	c.setStation(2)
	c.state.Store(int32(Slave))

	peerPort := bus.Open()
	peer := reader.New(peerPort, 0, nil)

	for _, fid := range []byte{0x01, 0x02} {
		if err := c.EnqueueFrame(frame.NewCommand(7, false, frame.CommandRequest, []byte{fid})); err != nil {
			t.Fatalf("EnqueueFrame: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.readLoop(ctx)
	done := make(chan error, 1)
	go func() { done <- c.drainQueue(ctx) }()

	got, err := peer.GetFrame(time.Second)
	if err != nil || got == nil {
		t.Fatalf("peer GetFrame() = %v, %v, want request", got, err)
	}
	if got.Command != frame.CommandRequest || got.Payload[0] != 0x01 || got.Header.Source != 2 {
		t.Fatalf("peer got %v, want first request from 2", got)
	}
	busy := frame.NewCommand(2, false, frame.CommandBusy, nil)
	busy.Header.Source = 7
	b, _ := frame.EncodeWire(busy)
	if err := transport.Write(peerPort, b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("drainQueue() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drainQueue() did not return")
	}
	if next, _ := peer.GetFrame(50 * time.Millisecond); next != nil {
		t.Errorf("sent %v after Busy, want nothing until the next token", next)
	}
	if n := c.QueueLen(); n != 2 {
		t.Fatalf("QueueLen() = %d, want 2", n)
	}
	if head := c.popQueued(); head.Payload[0] != 0x01 {
		t.Errorf("queue head payload = % x, want the refused frame first", head.Payload)
	}
}

func TestWarmupHoldsFirstToken(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	startMaster(t, bus, testConfig())
	rec := &recorder{}
	slave := newController(t, bus, slaveConfig(), nil, WithTracer(rec))
	req := frame.NewCommand(frame.MasterStation, false, frame.CommandRequest, []byte{0x42})
	if err := slave.EnqueueFrame(req); err != nil {
		t.Fatalf("EnqueueFrame: %v", err)
	}
	start(t, slave)
	waitForState(t, slave, Slave, 5*time.Second)

	isRequest := func(f *frame.Frame) bool { return !f.IsToken() && f.Command == frame.CommandRequest }
	waitFor(t, 2*time.Second, "queued request", func() bool {
		return indexOf(rec.sent(), 0, isRequest) >= 0
	})

	id := slave.StationID()
	var tokensIn, tokensOut int
	for _, e := range rec.frames() {
		if e.tx && isRequest(e.f) {
			break
		}
		if !e.f.IsToken() {
			continue
		}
		if !e.tx && e.f.Header.Destination == id {
			tokensIn++
		}
		if e.tx && e.f.Header.Source == id {
			tokensOut++
		}
	}
	if tokensIn < 2 {
		t.Errorf("request sent after %d tokens, want it held until the second", tokensIn)
	}
	if tokensOut < 1 {
		t.Error("first token was not passed on before the request")
	}
}

func TestThirdStationRelinksTail(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	logs := &logBuffer{}
	rec := &recorder{}
	startMaster(t, bus, testConfig(), WithTracer(rec), WithLogger(logs.logger(slog.LevelInfo)))

	a := newController(t, bus, slaveConfig(), nil)
	start(t, a)
	waitForState(t, a, Slave, 5*time.Second)
	b := newController(t, bus, slaveConfig(), nil)
	start(t, b)
	waitForState(t, b, Slave, 5*time.Second)

	ida, idb := a.StationID(), b.StationID()
	if ida == idb {
		t.Fatalf("both slaves got station %s", ida)
	}
	relink := func(f *frame.Frame) bool {
		return isCommandTo(ida, frame.CommandSetSuccessorAddressRequest)(f) &&
			len(f.Payload) == 1 && frame.StationID(f.Payload[0]) == idb
	}
	if indexOf(rec.sent(), 0, relink) < 0 {
		t.Errorf("master never set %s as successor of %s", idb, ida)
	}
	if want := fmt.Sprintf("ring=\"[0 %s %s]\"", ida, idb); !strings.Contains(logs.String(), want) {
		t.Errorf("log does not contain %s:\n%s", want, logs.String())
	}
}

func TestSolicitCycleLoggedAtDebug(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	logs := &logBuffer{}
	startMaster(t, bus, testConfig(), WithLogger(logs.logger(slog.LevelInfo)))
	time.Sleep(350 * time.Millisecond)

	out := logs.String()
	if strings.Contains(out, "to=BroadcastingStationID") {
		t.Errorf("solicit cycle logged at info:\n%s", out)
	}
	if n := strings.Count(out, "to=Master"); n != 1 {
		t.Errorf("%d transitions to Master logged at info, want 1:\n%s", n, out)
	}
}

func TestSensingDispatchesEvents(t *testing.T) {
	bus := transport.NewLoopback()
	defer bus.Close()

	sink := make(chanSink, 4)
	cfg := testConfig()
	cfg.SenseWindow = time.Second
	c := newController(t, bus, cfg, sink)
	start(t, c)
	waitForState(t, c, Sensing, 500*time.Millisecond)

	ev := frame.NewCommand(0, true, frame.CommandEvent, []byte{0x50, 0x01, 0x00})
	ev.Header.Source = 3
	b, _ := frame.EncodeWire(ev)
	bus.Inject(b)

	select {
	case r := <-sink:
		if fid, _ := r.Frame.FunctionID(); fid != 0x50 {
			t.Errorf("dispatched function id 0x%02x, want 0x50", fid)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event received while sensing was not dispatched")
	}
	waitForState(t, c, SlaveWaitingToJoin, 500*time.Millisecond)
}
