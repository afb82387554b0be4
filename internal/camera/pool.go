package camera

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// Owner is the current holder of a frame buffer
type Owner int

const (
	// OwnerDriver means the buffer is registered with the device, free or being filled
	OwnerDriver Owner = iota
	// OwnerPending means the buffer holds the pending frame
	OwnerPending
	// OwnerWorker means the worker is processing the buffer
	OwnerWorker
)

func (o Owner) String() string {
	switch o {
	case OwnerDriver:
		return "driver"
	case OwnerPending:
		return "pending"
	case OwnerWorker:
		return "worker"
	default:
		return fmt.Sprintf("owner(%d)", int(o))
	}
}

// FrameBuffer is a pooled preview buffer
type FrameBuffer struct {
	index int
	data  []byte
	owner Owner
}

// Bytes returns the whole backing buffer
func (b *FrameBuffer) Bytes() []byte {
	return b.data
}

// Index returns the buffer's position in its pool
func (b *FrameBuffer) Index() int {
	return b.index
}

// RequiredBufferSize returns the callback buffer size for a preview:
// the frame size rounded up to a whole byte, plus one.
func RequiredBufferSize(width, height int, format vision.PixelFormat) int {
	return format.FrameSize(width, height) + 1
}

// BufferPool owns a fixed set of preview buffers and tracks which holder
// each one belongs to. Buffers are found again by the address of their
// backing array, so a device can hand back the exact slice it was given.
type BufferPool struct {
	mu       sync.Mutex
	size     int
	buffers  []*FrameBuffer
	byAddr   map[*byte]*FrameBuffer
	giveBack func([]byte)
}

// NewBufferPool allocates n buffers of size bytes, all owned by the driver
func NewBufferPool(n, size int) (*BufferPool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid buffer count: %d", n)
	}
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = make([]byte, size)
	}
	return newBufferPool(bufs, size)
}

func newBufferPool(bufs [][]byte, size int) (*BufferPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrBufferTooSmall, size)
	}
	p := &BufferPool{
		size:   size,
		byAddr: make(map[*byte]*FrameBuffer, len(bufs)),
	}
	for i, data := range bufs {
		if len(data) < size {
			return nil, fmt.Errorf("%w: buffer %d has %d bytes, need %d", ErrBufferTooSmall, i, len(data), size)
		}
		b := &FrameBuffer{index: i, data: data, owner: OwnerDriver}
		p.buffers = append(p.buffers, b)
		p.byAddr[&data[0]] = b
	}
	return p, nil
}

// Size returns the size of each buffer
func (p *BufferPool) Size() int {
	return p.size
}

// Len returns the number of buffers
func (p *BufferPool) Len() int {
	return len(p.buffers)
}

// Buffers returns the backing slices for registration with a device
func (p *BufferPool) Buffers() [][]byte {
	out := make([][]byte, len(p.buffers))
	for i, b := range p.buffers {
		out[i] = b.data
	}
	return out
}

// SetReturnFunc sets the function that hands a released buffer back to
// the device. It is called with the pool lock held and must not block.
func (p *BufferPool) SetReturnFunc(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.giveBack = fn
}

// Lookup resolves a slice delivered by the device to its pooled buffer
func (p *BufferPool) Lookup(data []byte) (*FrameBuffer, bool) {
	if len(data) == 0 {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.byAddr[&data[0]]
	return b, ok
}

// transfer moves b from one holder to another
func (p *BufferPool) transfer(b *FrameBuffer, from, to Owner) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transferLocked(b, from, to)
}

func (p *BufferPool) transferLocked(b *FrameBuffer, from, to Owner) error {
	if b.owner != from {
		return fmt.Errorf("buffer %d owned by %s, not %s", b.index, b.owner, from)
	}
	b.owner = to
	return nil
}

// release returns b from its current holder to the driver
func (p *BufferPool) release(b *FrameBuffer, from Owner) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transferLocked(b, from, OwnerDriver); err != nil {
		return err
	}
	// registrations were cleared on stop, the device is gone
	if p.giveBack != nil && p.byAddr != nil {
		p.giveBack(b.data)
	}
	return nil
}

// Owned counts the buffers currently held by owner
func (p *BufferPool) Owned(owner Owner) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.buffers {
		if b.owner == owner {
			n++
		}
	}
	return n
}

// Clear drops every identity registration so late deliveries miss
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byAddr = nil
	p.giveBack = nil
}
