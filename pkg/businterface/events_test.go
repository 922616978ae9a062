package businterface

import (
	"slices"
	"sync"
	"testing"
	"time"

	"ds485d/pkg/frame"
)

func TestSubscribeMeterEvents(t *testing.T) {
	p, _ := newProxy(nil)

	var mu sync.Mutex
	var got []MeterEvent
	cancel := p.SubscribeMeterEvents(func(ev MeterEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	deliver := func(f *frame.Frame) {
		p.disp.Deliver(&frame.Received{Frame: f, At: time.Now()})
	}
	event := func(dest frame.StationID, pl *frame.Payload) *frame.Frame {
		f := frame.NewCommand(dest, true, frame.CommandEvent, pl.Bytes())
		f.Header.Source = 1
		return f
	}
	deliver(event(0, frame.NewPayload(EventNewDS485Device).AddUint16(12)))
	deliver(event(0, frame.NewPayload(EventLostDS485Device).AddUint16(9)))
	deliver(event(4, frame.NewPayload(EventDeviceReady)))
	deliver(event(0, frame.NewPayload(EventNewDS485Device)))
	deliver(event(0, frame.NewPayload(EventDSLinkInterrupt).AddUint16(1).AddUint16(2)))

	want := []MeterEvent{
		{Kind: EventNewDS485Device, Meter: 12},
		{Kind: EventLostDS485Device, Meter: 9},
		{Kind: EventDeviceReady, Meter: 4},
	}
	mu.Lock()
	if !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	mu.Unlock()

	cancel()
	if n := p.disp.Len(); n != 0 {
		t.Errorf("dispatcher has %d listeners after cancel, want 0", n)
	}
}
