package businterface

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ds485d/pkg/frame"
)

// MeterSpec describes a meter as reported by GetTypeRequest.
type MeterSpec struct {
	Station    frame.StationID
	DeviceType uint16
	HWVersion  uint16
	SWVersion  uint16
	Name       string
}

func (s MeterSpec) String() string {
	return fmt.Sprintf("station=%s type=%d hw=%d.%d sw=%d.%d name=%q",
		s.Station, s.DeviceType, s.HWVersion>>8, s.HWVersion&0xFF,
		s.SWVersion>>8, s.SWVersion&0xFF, s.Name)
}

const meterNameLen = 6

func meterSpecFromFrame(r *frame.Received) (MeterSpec, error) {
	d := frame.NewDissector(r.Frame.Payload)
	d.Uint8()
	spec := MeterSpec{Station: r.Frame.Header.Source}
	spec.DeviceType = d.Uint16() >> 8
	spec.HWVersion = uint16(d.Uint8())<<8 | uint16(d.Uint8())
	spec.SWVersion = uint16(d.Uint8())<<8 | uint16(d.Uint8())
	var name strings.Builder
	for range meterNameLen {
		if c := d.Uint8(); c != 0 {
			name.WriteByte(c)
		}
	}
	spec.Name = name.String()
	if err := d.Err(); err != nil {
		return MeterSpec{}, err
	}
	return spec, nil
}

// DSMeters broadcasts a type request and returns every meter that answered
// within the timeout, one entry per station, sorted by station.
func (p *Proxy) DSMeters() ([]MeterSpec, error) {
	pl := frame.NewPayload(FunctionGetTypeRequest)
	req := frame.NewCommand(frame.MasterStation, true, frame.CommandRequest, pl.Bytes())
	rep, err := p.exchange(call{op: "DSMeters", req: req, fid: FunctionGetTypeRequest, collect: true})
	if err != nil {
		return nil, err
	}
	seen := make(map[frame.StationID]bool)
	var specs []MeterSpec
	for _, r := range rep.frames {
		src := r.Frame.Header.Source
		if seen[src] {
			p.logger.Debug("duplicate meter answer", "station", src)
			continue
		}
		spec, err := meterSpecFromFrame(r)
		if err != nil {
			p.logger.Warn("bad meter answer", "station", src, "err", err)
			continue
		}
		seen[src] = true
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Station < specs[j].Station })
	return specs, nil
}

// DSMeterSpec queries one meter's type.
func (p *Proxy) DSMeterSpec(meter frame.StationID) (MeterSpec, error) {
	req := request(meter, frame.NewPayload(FunctionGetTypeRequest))
	rep, err := p.exchange(call{op: "DSMeterSpec", req: req, fid: FunctionGetTypeRequest})
	if err != nil {
		return MeterSpec{}, err
	}
	spec, err := meterSpecFromFrame(rep.frames[0])
	if err != nil {
		return MeterSpec{}, rep.badResponse(err)
	}
	return spec, nil
}

// ZoneCount returns the number of zones meter knows.
func (p *Proxy) ZoneCount(meter frame.StationID) (int, error) {
	return checked(p.result8("ZoneCount", meter,
		frame.NewPayload(FunctionDSMeterGetZonesSize)))
}

// Zones lists the zone ids of meter.
func (p *Proxy) Zones(meter frame.StationID) ([]int, error) {
	n, err := p.ZoneCount(meter)
	if err != nil {
		return nil, err
	}
	zones := make([]int, 0, n)
	for i := 0; i < n; i++ {
		v, err := p.result16("Zones", meter,
			frame.NewPayload(FunctionDSMeterGetZoneIDForInd).AddUint16(uint16(i)))
		if err != nil {
			return nil, err
		}
		if v < 0 && v > -20 {
			return nil, CheckResult(v)
		}
		zones = append(zones, int(uint16(v)))
	}
	return zones, nil
}

// DevicesCountInZone returns the number of devices in zone.
func (p *Proxy) DevicesCountInZone(meter frame.StationID, zone int) (int, error) {
	return checked(p.result16("DevicesCountInZone", meter,
		frame.NewPayload(FunctionDSMeterCountDevInZone).AddUint16(uint16(zone))))
}

// DevicesInZone lists the device ids in zone.
func (p *Proxy) DevicesInZone(meter frame.StationID, zone int) ([]int, error) {
	n, err := p.DevicesCountInZone(meter, zone)
	if err != nil {
		return nil, err
	}
	devs := make([]int, 0, n)
	for i := 0; i < n; i++ {
		v, err := checked(p.result16("DevicesInZone", meter,
			frame.NewPayload(FunctionDSMeterDevKeyInZone).AddUint16(uint16(zone)).AddUint16(uint16(i))))
		if err != nil {
			return nil, err
		}
		devs = append(devs, v)
	}
	return devs, nil
}

// GroupCount returns the number of groups in zone. Every zone has at least
// the standard groups.
func (p *Proxy) GroupCount(meter frame.StationID, zone int) (int, error) {
	n, err := checked(p.result8("GroupCount", meter,
		frame.NewPayload(FunctionDSMeterGetGroupsSize).AddUint16(uint16(zone))))
	if err != nil {
		return 0, err
	}
	return max(n, GroupIDStandardMax), nil
}

// Groups lists the group ids of zone. Indices the meter rejects are
// skipped.
func (p *Proxy) Groups(meter frame.StationID, zone int) ([]int, error) {
	n, err := p.GroupCount(meter, zone)
	if err != nil {
		return nil, err
	}
	groups := make([]int, 0, n)
	for i := 0; i < n; i++ {
		v, err := p.result8("Groups", meter,
			frame.NewPayload(FunctionZoneGetGroupIDForInd).AddUint16(uint16(zone)).AddUint16(uint16(i)))
		if err != nil {
			return nil, err
		}
		if err := CheckResult(v); err != nil {
			p.logger.Warn("group index rejected", "meter", meter, "zone", zone, "index", i, "err", err)
			continue
		}
		groups = append(groups, v)
	}
	return groups, nil
}

// DevicesInGroupCount returns the number of devices in a group of zone.
func (p *Proxy) DevicesInGroupCount(meter frame.StationID, zone, group int) (int, error) {
	return checked(p.result16("DevicesInGroupCount", meter,
		frame.NewPayload(FunctionGroupGetDeviceCount).AddUint16(uint16(zone)).AddUint16(uint16(group))))
}

// DevicesInGroup lists the device ids of a group. Indices the meter
// rejects are skipped.
func (p *Proxy) DevicesInGroup(meter frame.StationID, zone, group int) ([]int, error) {
	n, err := p.DevicesInGroupCount(meter, zone, group)
	if err != nil {
		return nil, err
	}
	devs := make([]int, 0, n)
	for i := 0; i < n; i++ {
		v, err := p.result16("DevicesInGroup", meter,
			frame.NewPayload(FunctionGroupGetDevKeyForInd).
				AddUint16(uint16(zone)).AddUint16(uint16(group)).AddUint16(uint16(i)))
		if err != nil {
			return nil, err
		}
		if err := CheckResult(v); err != nil {
			p.logger.Warn("device index rejected", "meter", meter, "group", group, "index", i, "err", err)
			continue
		}
		devs = append(devs, v)
	}
	return devs, nil
}

const groupBitmapLen = 8

// GroupsOfDevice returns the group ids a device belongs to, decoded from
// the membership bitmap the meter reports. Bit n of the bitmap stands for
// group n+1.
func (p *Proxy) GroupsOfDevice(meter frame.StationID, dev int) ([]int, error) {
	const op = "GroupsOfDevice"
	d, rep, err := p.single(op, meter, frame.NewPayload(FunctionDeviceGetGroups).AddUint16(uint16(dev)))
	if err != nil {
		return nil, err
	}
	res := int(d.Int16())
	var bitmap [groupBitmapLen]byte
	for i := range bitmap {
		bitmap[i] = d.Uint8()
	}
	if err := d.Err(); err != nil {
		return nil, rep.badResponse(err)
	}
	if err := CheckResult(res); err != nil {
		return nil, err
	}
	var groups []int
	for i, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				groups = append(groups, i*8+bit+1)
			}
		}
	}
	return groups, nil
}

// SetZoneID moves a device into zone.
func (p *Proxy) SetZoneID(meter frame.StationID, dev, zone int) error {
	_, err := checked(p.result8("SetZoneID", meter,
		frame.NewPayload(FunctionDeviceSetZoneID).AddUint16(uint16(dev)).AddUint16(uint16(zone))))
	return err
}

func (p *Proxy) CreateZone(meter frame.StationID, zone int) error {
	_, err := checked(p.result8("CreateZone", meter,
		frame.NewPayload(FunctionDSMeterAddZone).AddUint16(uint16(zone))))
	return err
}

func (p *Proxy) RemoveZone(meter frame.StationID, zone int) error {
	_, err := checked(p.result8("RemoveZone", meter,
		frame.NewPayload(FunctionDSMeterRemoveZone).AddUint16(uint16(zone))))
	return err
}

// DSIDOfDevice returns the DSID of a device behind meter.
func (p *Proxy) DSIDOfDevice(meter frame.StationID, dev int) (frame.DSID, error) {
	const op = "DSIDOfDevice"
	d, rep, err := p.single(op, meter, frame.NewPayload(FunctionDeviceGetDSID).AddUint16(uint16(dev)))
	if err != nil {
		return frame.NullDSID, err
	}
	res := int(d.Int16())
	id := d.DSID()
	if err := d.Err(); err != nil {
		return frame.NullDSID, rep.badResponse(err)
	}
	if err := CheckResult(res); err != nil {
		return frame.NullDSID, err
	}
	return id, nil
}

// DSIDOfDSMeter returns the meter's own DSID.
func (p *Proxy) DSIDOfDSMeter(meter frame.StationID) (frame.DSID, error) {
	const op = "DSIDOfDSMeter"
	d, rep, err := p.single(op, meter, frame.NewPayload(FunctionDSMeterGetDSID))
	if err != nil {
		return frame.NullDSID, err
	}
	id := d.DSID()
	if err := d.Err(); err != nil {
		return frame.NullDSID, rep.badResponse(err)
	}
	return id, nil
}

// LastCalledScene returns the scene last called on a group of zone.
func (p *Proxy) LastCalledScene(meter frame.StationID, zone, group int) (int, error) {
	return checked(p.result16("LastCalledScene", meter,
		frame.NewPayload(FunctionGroupGetLastCalledScene).AddUint16(uint16(zone)).AddUint16(uint16(group))))
}

func (p *Proxy) uint32Value(op string, meter frame.StationID, fid FunctionID) (uint32, error) {
	d, rep, err := p.single(op, meter, frame.NewPayload(fid))
	if err != nil {
		return 0, err
	}
	v := d.Uint32()
	if err := d.Err(); err != nil {
		return 0, rep.badResponse(err)
	}
	return v, nil
}

// PowerConsumption returns the meter's current consumption in W.
func (p *Proxy) PowerConsumption(meter frame.StationID) (uint32, error) {
	return p.uint32Value("PowerConsumption", meter, FunctionDSMeterGetPowerConsumption)
}

// EnergyMeterValue returns the meter's energy counter in Wh.
func (p *Proxy) EnergyMeterValue(meter frame.StationID) (uint32, error) {
	return p.uint32Value("EnergyMeterValue", meter, FunctionDSMeterGetEnergyMeterValue)
}

// EnergyBorder returns the meter's lower and upper energy levels.
func (p *Proxy) EnergyBorder(meter frame.StationID) (lower, upper int, err error) {
	const op = "EnergyBorder"
	d, rep, err := p.single(op, meter, frame.NewPayload(FunctionDSMeterGetEnergyLevel))
	if err != nil {
		return 0, 0, err
	}
	lower = int(d.Uint16())
	upper = int(d.Uint16())
	if err := d.Err(); err != nil {
		return 0, 0, rep.badResponse(err)
	}
	return lower, upper, nil
}

const sensorTimeout = 2000 * time.Millisecond

// SensorValue reads a sensor of a device. The meter first acknowledges
// the request and later sends the value in a second frame.
func (p *Proxy) SensorValue(meter frame.StationID, dev, sensor int) (int, error) {
	const op = "SensorValue"
	fid := FunctionDeviceGetSensorValue
	req := request(meter, frame.NewPayload(fid).AddUint16(uint16(dev)).AddUint16(uint16(sensor)))
	rep, err := p.exchange(call{op: op, req: req, fid: fid, timeout: sensorTimeout, want: 2})
	if err != nil {
		return 0, err
	}

	ack := frame.NewDissector(rep.frames[0].Frame.Payload)
	ack.Uint8()
	res := int(ack.Int16())
	if err := ack.Err(); err != nil {
		return 0, rep.badResponse(err)
	}
	if err := CheckResult(res); err != nil {
		return 0, err
	}

	d := frame.NewDissector(rep.frames[1].Frame.Payload)
	d.Uint8()
	d.Uint16()
	d.Uint16()
	res = int(d.Int16())
	v := int(d.Uint16())
	if err := d.Err(); err != nil {
		return 0, rep.badResponse(err)
	}
	if err := CheckResult(res); err != nil {
		return 0, err
	}
	return v, nil
}

// DeviceParameterValue reads a configuration parameter of a device.
func (p *Proxy) DeviceParameterValue(meter frame.StationID, dev, param int) (int, error) {
	const op = "DeviceParameterValue"
	fid := FunctionDeviceGetParameterValue
	d, rep, err := p.single(op, meter, frame.NewPayload(fid).AddUint16(uint16(dev)).AddUint16(uint16(param)))
	if err != nil {
		return 0, err
	}
	v := int(d.Uint8())
	if err := d.Err(); err != nil {
		return 0, rep.badResponse(err)
	}
	return v, nil
}

// DeviceFunctionID reads the function id a device reports about itself.
func (p *Proxy) DeviceFunctionID(meter frame.StationID, dev int) (int, error) {
	const op = "DeviceFunctionID"
	fid := FunctionDeviceGetFunctionID
	d, rep, err := p.single(op, meter, frame.NewPayload(fid).AddUint16(uint16(dev)))
	if err != nil {
		return 0, err
	}
	status := d.Uint16()
	res := int(d.Int16())
	if err := d.Err(); err != nil {
		return 0, rep.badResponse(err)
	}
	if status != 1 {
		return 0, rep.badResponse(fmt.Errorf("status %d", status))
	}
	return checked(res, nil)
}

// SetValueDevice writes a device parameter. The meter does not answer.
func (p *Proxy) SetValueDevice(meter frame.StationID, dev int, value, param uint16, size int) error {
	if size < 1 {
		return errors.New("businterface: SetValueDevice: size must be at least 1")
	}
	pl := frame.NewPayload(FunctionDeviceSetParameterValue).
		AddUint16(uint16(dev)).AddUint16(param).AddUint16(uint16(size - 1)).AddUint16(value)
	return p.SendFrame(request(meter, pl))
}

const dsLinkTimeout = 10000 * time.Millisecond

// DSLinkSend sends one byte to a device over dSLink and returns the byte
// it answers with. With DSLinkSendWriteOnly set no answer is awaited and
// zero is returned.
func (p *Proxy) DSLinkSend(meter frame.StationID, dev int, value, flags uint8) (uint8, error) {
	const op = "DSLinkSend"
	pl := frame.NewPayload(FunctionDSLinkSendDevice).
		AddUint16(uint16(dev)).AddUint16(uint16(value)).AddUint16(uint16(flags))
	req := request(meter, pl)
	if flags&DSLinkSendWriteOnly != 0 {
		return 0, p.SendFrame(req)
	}
	rep, err := p.exchange(call{op: op, req: req, fid: FunctionDSLinkReceive, timeout: dsLinkTimeout})
	if err != nil {
		return 0, err
	}
	d := frame.NewDissector(rep.frames[0].Frame.Payload)
	d.Uint8()
	d.Uint16()
	addr := int(d.Uint16())
	v := d.Uint16()
	if err := d.Err(); err != nil {
		return 0, rep.badResponse(err)
	}
	if addr != dev {
		return 0, rep.badResponse(fmt.Errorf("answer from device %d, want %d", addr, dev))
	}
	return uint8(v), nil
}
