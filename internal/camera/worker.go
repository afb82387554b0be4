package camera

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// WorkerState is the lifecycle state of a Worker
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerDraining
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerDraining:
		return "draining"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WorkerStats counts frames handled by a worker
type WorkerStats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// Worker takes pending frames one at a time and runs the detector on
// them. Every buffer it takes goes back to the device, whatever the
// detector does.
type Worker struct {
	slot     *PendingSlot
	pool     *BufferPool
	detector vision.Detector
	width    int
	height   int
	format   vision.PixelFormat

	state     atomic.Int32
	inFlight  atomic.Bool
	processed atomic.Uint64
	failed    atomic.Uint64
	done      chan struct{}
}

// NewWorker creates an idle worker for frames of the given geometry
func NewWorker(slot *PendingSlot, pool *BufferPool, detector vision.Detector, width, height int, format vision.PixelFormat) *Worker {
	return &Worker{
		slot:     slot,
		pool:     pool,
		detector: detector,
		width:    width,
		height:   height,
		format:   format,
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. It may be called once.
func (w *Worker) Start() {
	if !w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerRunning)) {
		return
	}
	go w.run()
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.state.Store(int32(WorkerStopped))

	log := logger.WithComponent("worker")
	log.Debug().Msg("Frame processing started")

	for {
		f, ok := w.slot.TakeBlocking()
		if !ok {
			break
		}
		w.process(f)
	}

	log.Debug().
		Uint64("processed", w.processed.Load()).
		Uint64("failed", w.failed.Load()).
		Msg("Frame processing stopped")
}

func (w *Worker) process(f PendingFrame) {
	w.inFlight.Store(true)
	defer w.inFlight.Store(false)
	defer func() {
		if err := w.pool.release(f.Buffer, OwnerWorker); err != nil {
			logger.WithComponent("worker").Error().Err(err).Msg("Failed to return buffer")
		}
	}()

	frame := vision.Frame{
		Data:            f.Buffer.data[:w.format.FrameSize(w.width, w.height)],
		Width:           w.width,
		Height:          w.height,
		Format:          w.format,
		ID:              f.ID,
		TimestampMillis: f.TimestampMillis,
		Rotation:        f.Rotation,
	}

	if err := w.detect(frame); err != nil {
		w.failed.Add(1)
		logger.WithComponent("worker").Warn().
			Err(err).
			Uint64("frame_id", f.ID).
			Msg("Detector failed on frame")
		return
	}
	w.processed.Add(1)
}

func (w *Worker) detect(frame vision.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
			logger.WithComponent("worker").Debug().
				Str("stack", string(debug.Stack())).
				Msg("Recovered detector panic")
		}
	}()
	_, err = w.detector.ReceiveFrame(frame)
	return err
}

// Shutdown stops the worker after any in-flight detector call returns
func (w *Worker) Shutdown() {
	if w.inFlight.Load() {
		w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerDraining))
	}
	w.slot.Shutdown()
	// never started, nothing to wait for
	if w.state.CompareAndSwap(int32(WorkerIdle), int32(WorkerStopped)) {
		close(w.done)
	}
}

// Join waits up to timeout for the worker goroutine to exit
func (w *Worker) Join(timeout time.Duration) bool {
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// State returns the current lifecycle state
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Stats returns the frame counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
}
