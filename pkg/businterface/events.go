package businterface

import (
	"ds485d/pkg/dispatch"
	"ds485d/pkg/frame"
)

// MeterEvent reports a meter appearing on, leaving or becoming ready on
// the bus.
type MeterEvent struct {
	Kind  FunctionID // EventNewDS485Device, EventLostDS485Device or EventDeviceReady
	Meter frame.StationID
}

func (e MeterEvent) String() string {
	return FunctionName(e.Kind) + " " + e.Meter.String()
}

// SubscribeMeterEvents calls fn for every meter event until the returned
// cancel function is called. fn runs on the dispatching goroutine and
// must not block.
func (p *Proxy) SubscribeMeterEvents(fn func(MeterEvent)) (cancel func()) {
	var regs []*dispatch.Registration
	for _, kind := range []FunctionID{EventNewDS485Device, EventLostDS485Device, EventDeviceReady} {
		filter := dispatch.Filter{FunctionID: kind, Source: dispatch.AnySource()}
		regs = append(regs, p.disp.Register(dispatch.Func(filter, func(r *frame.Received) {
			ev, ok := meterEventFromFrame(kind, r.Frame)
			if !ok {
				p.logger.Warn("malformed meter event", "frame", r.Frame)
				return
			}
			fn(ev)
		})))
	}
	return func() {
		for _, r := range regs {
			r.Release()
		}
	}
}

func meterEventFromFrame(kind FunctionID, f *frame.Frame) (MeterEvent, bool) {
	ev := MeterEvent{Kind: kind}
	if kind == EventDeviceReady {
		ev.Meter = f.Header.Destination
		return ev, true
	}
	d := frame.NewDissector(f.Payload)
	d.Uint8()
	ev.Meter = frame.StationID(d.Uint16())
	return ev, d.Err() == nil
}
