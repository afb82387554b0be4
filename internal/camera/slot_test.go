package camera

import (
	"testing"
	"time"
)

type slotFixture struct {
	pool     *BufferPool
	slot     *PendingSlot
	returned [][]byte
	free     chan []byte
}

func newSlotFixture(t *testing.T) *slotFixture {
	t.Helper()
	pool, err := NewBufferPool(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	f := &slotFixture{pool: pool, free: make(chan []byte, 4)}
	pool.SetReturnFunc(func(b []byte) { f.free <- b })
	for _, b := range pool.Buffers() {
		f.free <- b
	}
	f.slot = NewPendingSlot(pool)
	return f
}

// fill takes a free buffer, marks it and offers it
func (f *slotFixture) fill(t *testing.T, mark byte) []byte {
	t.Helper()
	select {
	case b := <-f.free:
		b[0] = mark
		f.slot.Offer(b, 1)
		return b
	default:
		t.Fatal("no free buffer")
		return nil
	}
}

func TestSlotLatestFrameWins(t *testing.T) {
	f := newSlotFixture(t)

	f.fill(t, 'a')
	f.fill(t, 'b')
	f.fill(t, 'c')

	frame, ok := f.slot.TakeBlocking()
	if !ok {
		t.Fatal("TakeBlocking returned false")
	}
	if frame.Buffer.Bytes()[0] != 'c' {
		t.Errorf("got frame %q, want the latest 'c'", frame.Buffer.Bytes()[0])
	}
	if frame.ID != 3 || frame.Rotation != 1 {
		t.Errorf("ID=%d Rotation=%d, want 3 and 1", frame.ID, frame.Rotation)
	}

	// the two replaced buffers went straight back to the device
	if len(f.free) != 3 {
		t.Errorf("free buffers = %d, want 3", len(f.free))
	}
	if f.pool.Owned(OwnerWorker) != 1 {
		t.Errorf("worker owns %d buffers, want 1", f.pool.Owned(OwnerWorker))
	}

	st := f.slot.Stats()
	if st.Published != 3 || st.Replaced != 2 || st.Taken != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSlotFrameIDsIncrease(t *testing.T) {
	f := newSlotFixture(t)
	var last uint64
	for i := 0; i < 5; i++ {
		f.fill(t, byte(i))
		frame, ok := f.slot.TakeBlocking()
		if !ok {
			t.Fatal("TakeBlocking returned false")
		}
		if frame.ID <= last {
			t.Errorf("frame id %d not greater than %d", frame.ID, last)
		}
		last = frame.ID
		f.pool.release(frame.Buffer, OwnerWorker)
	}
}

func TestSlotUnknownBufferIsDropped(t *testing.T) {
	f := newSlotFixture(t)
	f.fill(t, 'a')

	if f.slot.Offer(make([]byte, 8), 0) {
		t.Error("foreign buffer must not be published")
	}
	if f.slot.Stats().Missed != 1 {
		t.Errorf("Missed = %d, want 1", f.slot.Stats().Missed)
	}
	// the delivery still made the previous pending frame stale
	if f.pool.Owned(OwnerPending) != 0 || len(f.free) != 4 {
		t.Errorf("pending=%d free=%d", f.pool.Owned(OwnerPending), len(f.free))
	}
}

func TestSlotTakeBlocksUntilOffer(t *testing.T) {
	f := newSlotFixture(t)

	got := make(chan PendingFrame, 1)
	go func() {
		frame, ok := f.slot.TakeBlocking()
		if ok {
			got <- frame
		}
	}()

	select {
	case <-got:
		t.Fatal("TakeBlocking returned before any frame")
	case <-time.After(50 * time.Millisecond):
	}

	f.fill(t, 'x')
	select {
	case frame := <-got:
		if frame.Buffer.Bytes()[0] != 'x' {
			t.Errorf("got %q", frame.Buffer.Bytes()[0])
		}
	case <-time.After(time.Second):
		t.Fatal("TakeBlocking did not wake up")
	}
}

func TestSlotShutdown(t *testing.T) {
	f := newSlotFixture(t)

	done := make(chan bool, 1)
	go func() {
		_, ok := f.slot.TakeBlocking()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)

	f.slot.Shutdown()
	select {
	case ok := <-done:
		if ok {
			t.Error("TakeBlocking should report shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not wake the waiter")
	}

	// forever after
	if _, ok := f.slot.TakeBlocking(); ok {
		t.Error("TakeBlocking after shutdown should return false")
	}
	f.slot.Shutdown()
	if f.slot.Active() {
		t.Error("slot still active")
	}
}

func TestSlotShutdownReleasesPending(t *testing.T) {
	f := newSlotFixture(t)
	f.fill(t, 'a')
	f.slot.Shutdown()

	if f.pool.Owned(OwnerDriver) != 4 || len(f.free) != 4 {
		t.Errorf("driver=%d free=%d, want 4 and 4", f.pool.Owned(OwnerDriver), len(f.free))
	}

	// deliveries after shutdown are returned at once
	f.fill(t, 'b')
	if f.pool.Owned(OwnerDriver) != 4 || len(f.free) != 4 {
		t.Error("buffer offered after shutdown was not returned")
	}
}
