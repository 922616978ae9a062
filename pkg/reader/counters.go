package reader

import "sync"

// Counter indexes the reader's diagnostic counters.
type Counter int

const (
	CntFramesReceived Counter = iota
	CntIncompleteFrames
	CntChecksumErrors
	CntFramingErrors
	CntBytesReceived
	// CntChecksumRun counts checksum errors since the last good frame.
	CntChecksumRun

	cntNum = iota
)

type counters struct {
	sync.Mutex
	ca [cntNum]uint64
}

func (c *counters) Inc(cnt Counter) {
	c.Lock()
	defer c.Unlock()
	c.ca[cnt]++
}

func (c *counters) Rst(cnt Counter) {
	c.Lock()
	defer c.Unlock()
	c.ca[cnt] = 0
}

func (c *counters) GetAll() [cntNum]uint64 {
	c.Lock()
	defer c.Unlock()
	return c.ca
}

// Stats is a point-in-time copy of the reader's counters.
type Stats struct {
	FramesReceived   uint64
	IncompleteFrames uint64
	ChecksumErrors   uint64
	FramingErrors    uint64
	BytesReceived    uint64
	// ChecksumRun is the number of checksum failures since the last
	// frame that decoded cleanly.
	ChecksumRun uint64
}
