package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ds485d/pkg/frame"
)

// Bucket is a Listener that queues matching frames for a consumer that
// waits on it with a timeout.
type Bucket struct {
	d          *Dispatcher
	filter     Filter
	singleShot bool
	id         uuid.UUID

	mu       sync.Mutex
	queue    []*frame.Received
	accepted bool
	reg      *Registration
	notify   chan struct{}
}

// BucketOption configures a Bucket.
type BucketOption func(*Bucket)

// SingleShot makes the bucket accept one frame and then detach itself.
func SingleShot() BucketOption {
	return func(b *Bucket) { b.singleShot = true }
}

// WithCorrelationID sets the id used to tell buckets apart in logs and
// errors. By default a random id is assigned.
func WithCorrelationID(id uuid.UUID) BucketOption {
	return func(b *Bucket) { b.id = id }
}

// NewBucket creates a bucket for filter. It does not receive frames until
// Register is called.
func NewBucket(d *Dispatcher, filter Filter, opts ...BucketOption) *Bucket {
	b := &Bucket{
		d:      d,
		filter: filter,
		notify: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	if b.id == uuid.Nil {
		b.id = uuid.New()
	}
	return b
}

func (b *Bucket) Filter() Filter { return b.filter }

// CorrelationID identifies this bucket.
func (b *Bucket) CorrelationID() uuid.UUID { return b.id }

// SingleShot reports whether the bucket detaches after its first frame.
func (b *Bucket) SingleShot() bool { return b.singleShot }

// Register attaches the bucket to its dispatcher. It is a no-op if the
// bucket is already attached.
func (b *Bucket) Register() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reg != nil {
		return
	}
	b.reg = b.d.Register(b)
}

// Unregister detaches the bucket. Queued frames stay available.
func (b *Bucket) Unregister() {
	b.mu.Lock()
	reg := b.reg
	b.reg = nil
	b.mu.Unlock()
	if reg != nil {
		reg.Release()
	}
}

// Close detaches the bucket; use it with defer so every exit path
// unregisters.
func (b *Bucket) Close() {
	b.Unregister()
}

// Registered reports whether the bucket is attached.
func (b *Bucket) Registered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reg != nil
}

func (b *Bucket) HandleFrame(r *frame.Received) {
	b.AddFrame(r)
}

// AddFrame queues r. A single-shot bucket takes only its first frame and
// detaches itself; later frames are refused.
func (b *Bucket) AddFrame(r *frame.Received) bool {
	b.mu.Lock()
	if b.singleShot && b.accepted {
		b.mu.Unlock()
		return false
	}
	b.accepted = true
	b.queue = append(b.queue, r)
	var reg *Registration
	if b.singleShot {
		reg, b.reg = b.reg, nil
	}
	b.mu.Unlock()

	if reg != nil {
		reg.Release()
	}
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// WaitForFrame blocks until a frame is queued or timeout elapses and
// reports whether a frame is available.
func (b *Bucket) WaitForFrame(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	var t *time.Timer
	for {
		if !b.IsEmpty() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if t == nil {
			t = time.NewTimer(remaining)
			defer t.Stop()
		} else {
			t.Reset(remaining)
		}
		select {
		case <-b.notify:
		case <-t.C:
			return !b.IsEmpty()
		}
	}
}

// PopFrame removes and returns the oldest frame, or nil.
func (b *Bucket) PopFrame() *frame.Received {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	r := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return r
}

func (b *Bucket) IsEmpty() bool {
	return b.FrameCount() == 0
}

func (b *Bucket) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
