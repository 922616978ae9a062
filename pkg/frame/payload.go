package frame

// Payload builds a command-frame payload with the bus's fixed-width
// writers. Multi-byte integers are little-endian; 32-bit values travel as
// two 16-bit halves, low half first.
type Payload struct {
	b []byte
}

// NewPayload starts a payload with the given function id.
func NewPayload(functionID uint8) *Payload {
	return &Payload{b: []byte{functionID}}
}

func (p *Payload) AddUint8(v uint8) *Payload {
	p.b = append(p.b, v)
	return p
}

func (p *Payload) AddBool(v bool) *Payload {
	if v {
		return p.AddUint8(1)
	}
	return p.AddUint8(0)
}

func (p *Payload) AddUint16(v uint16) *Payload {
	p.b = append(p.b, byte(v), byte(v>>8))
	return p
}

func (p *Payload) AddUint32(v uint32) *Payload {
	return p.AddUint16(uint16(v)).AddUint16(uint16(v >> 16))
}

func (p *Payload) AddDSID(id DSID) *Payload {
	p.b = id.AppendBinary(p.b)
	return p
}

// Bytes returns the assembled payload.
func (p *Payload) Bytes() []byte {
	return p.b
}

// Len returns the number of bytes written so far.
func (p *Payload) Len() int {
	return len(p.b)
}

// Dissector reads a payload in the order Payload writes it. The first
// error sticks; later reads return zero values.
type Dissector struct {
	b   []byte
	err error
}

func NewDissector(b []byte) *Dissector {
	return &Dissector{b: b}
}

func (d *Dissector) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.err = ErrShortPayload
		return nil
	}
	v := d.b[:n]
	d.b = d.b[n:]
	return v
}

func (d *Dissector) Uint8() uint8 {
	if v := d.take(1); v != nil {
		return v[0]
	}
	return 0
}

func (d *Dissector) Int8() int8 {
	return int8(d.Uint8())
}

func (d *Dissector) Uint16() uint16 {
	if v := d.take(2); v != nil {
		return uint16(v[0]) | uint16(v[1])<<8
	}
	return 0
}

// Int16 reads a signed 16-bit value; negative values are result codes.
func (d *Dissector) Int16() int16 {
	return int16(d.Uint16())
}

func (d *Dissector) Uint32() uint32 {
	lo := d.Uint16()
	hi := d.Uint16()
	return uint32(hi)<<16 | uint32(lo)
}

func (d *Dissector) DSID() DSID {
	if v := d.take(DSIDLen); v != nil {
		id, _ := DSIDFromBytes(v)
		return id
	}
	return DSID{}
}

// Empty reports whether every byte has been consumed.
func (d *Dissector) Empty() bool {
	return len(d.b) == 0
}

// Remaining returns the unread bytes.
func (d *Dissector) Remaining() []byte {
	return d.b
}

func (d *Dissector) Err() error {
	return d.err
}
