package camera

import (
	"sync"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
)

// PendingFrame is the single frame waiting for the worker
type PendingFrame struct {
	ID              uint64
	TimestampMillis int64
	Rotation        int // quarter turns
	Buffer          *FrameBuffer
}

// SlotStats counts slot traffic since the slot was created
type SlotStats struct {
	Published uint64 `json:"published"`
	Replaced  uint64 `json:"replaced"` // pending frames overwritten before the worker took them
	Missed    uint64 `json:"missed"`   // deliveries that did not resolve to a pooled buffer
	Taken     uint64 `json:"taken"`
}

// PendingSlot is a single-frame mailbox between the device callback and
// the worker. A new frame replaces an unconsumed one, whose buffer goes
// straight back to the device.
type PendingSlot struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pool    *BufferPool
	pending *PendingFrame
	active  bool
	nextID  uint64
	started time.Time
	stats   SlotStats
}

// NewPendingSlot creates an active slot over pool
func NewPendingSlot(pool *BufferPool) *PendingSlot {
	s := &PendingSlot{
		pool:    pool,
		active:  true,
		started: time.Now(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Offer is the device callback entry point. It never blocks beyond
// acquiring the slot lock. It reports whether the frame was published.
func (s *PendingSlot) Offer(data []byte, rotation int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the previous pending frame is stale as soon as a new delivery arrives
	if s.pending != nil {
		s.stats.Replaced++
		s.releasePendingLocked()
	}

	buf, ok := s.pool.Lookup(data)
	if !ok {
		s.stats.Missed++
		logger.WithComponent("camera").Debug().
			Int("len", len(data)).
			Msg("Skipping frame, could not find buffer associated with the image data")
		return false
	}

	if err := s.pool.transfer(buf, OwnerDriver, OwnerPending); err != nil {
		s.stats.Missed++
		logger.WithComponent("camera").Warn().Err(err).Msg("Skipping frame delivered twice")
		return false
	}

	if !s.active {
		s.pool.release(buf, OwnerPending)
		return false
	}

	s.nextID++
	s.publishLocked(PendingFrame{
		ID:              s.nextID,
		TimestampMillis: time.Since(s.started).Milliseconds(),
		Rotation:        rotation,
		Buffer:          buf,
	})
	return true
}

// Publish makes f the pending frame, replacing and releasing any
// unconsumed one. f's buffer must already be owned by the slot.
func (s *PendingSlot) Publish(f PendingFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		s.pool.release(f.Buffer, OwnerPending)
		return
	}
	s.publishLocked(f)
}

func (s *PendingSlot) publishLocked(f PendingFrame) {
	if s.pending != nil {
		s.stats.Replaced++
		s.releasePendingLocked()
	}
	s.pending = &f
	s.stats.Published++
	s.cond.Broadcast()
}

func (s *PendingSlot) releasePendingLocked() {
	if s.pending == nil {
		return
	}
	if err := s.pool.release(s.pending.Buffer, OwnerPending); err != nil {
		logger.WithComponent("camera").Error().Err(err).Msg("Failed to release pending buffer")
	}
	s.pending = nil
}

// TakeBlocking waits for a pending frame and hands its buffer to the
// worker. It returns false once the slot has been shut down.
func (s *PendingSlot) TakeBlocking() (PendingFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.active && s.pending == nil {
		s.cond.Wait()
	}
	if !s.active {
		return PendingFrame{}, false
	}

	f := *s.pending
	s.pending = nil
	if err := s.pool.transfer(f.Buffer, OwnerPending, OwnerWorker); err != nil {
		// unreachable while the slot is the only writer of pending buffers
		logger.WithComponent("camera").Error().Err(err).Msg("Pending buffer ownership mismatch")
	}
	s.stats.Taken++
	return f, true
}

// Shutdown deactivates the slot, releases any pending buffer and wakes
// all waiters. It is idempotent.
func (s *PendingSlot) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
	s.releasePendingLocked()
	s.cond.Broadcast()
}

// Active reports whether the slot still accepts frames
func (s *PendingSlot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stats returns a snapshot of the slot counters
func (s *PendingSlot) Stats() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
