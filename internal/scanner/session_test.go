package scanner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/camera"
	"github.com/bryanchriswhite/ScanStreamer/internal/config"
	"github.com/bryanchriswhite/ScanStreamer/internal/output"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

const sceneText = "parcel-0042"

type fakeOutput struct {
	mu       sync.Mutex
	running  bool
	bindErr  error
	geometry output.Geometry
	frames   int
	last     image.Rectangle
}

func (o *fakeOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = true
	return nil
}

func (o *fakeOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	return nil
}

func (o *fakeOutput) WriteFrame(frame *image.RGBA) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames++
	o.last = frame.Bounds()
	return nil
}

func (o *fakeOutput) Name() string { return "fake" }

func (o *fakeOutput) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *fakeOutput) Bind(g output.Geometry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bindErr != nil {
		return o.bindErr
	}
	o.geometry = g
	return nil
}

func (o *fakeOutput) frameCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames
}

func testConfig() config.Config {
	cfg := *config.Defaults()
	cfg.Camera.Driver = config.DriverSimulated
	cfg.Camera.SimulateText = sceneText
	cfg.Camera.PreviewWidth = 640
	cfg.Camera.PreviewHeight = 480
	cfg.Camera.FPS = 30
	cfg.Detector.TryHarder = true
	return cfg
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Config.ServerPort == 0 {
		opts.Config = testConfig()
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(s.Release)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Camera.FPS = 0
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("expected error for zero fps")
	}

	cfg = testConfig()
	cfg.Camera.Driver = "bogus"
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestAutoSelectResult(t *testing.T) {
	s := newTestSession(t, Options{AutoSelect: true})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := s.Result(ctx)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if d.RawValue != sceneText {
		t.Errorf("result = %q, want %q", d.RawValue, sceneText)
	}
	if d.Format != "QR_CODE" {
		t.Errorf("format = %q, want QR_CODE", d.Format)
	}
}

func TestTapSelectsDetection(t *testing.T) {
	s := newTestSession(t, Options{})

	if _, _, err := s.Tap(10, 10); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Tap before start = %v, want ErrNotStarted", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "a detection", func() bool { return len(s.Detections()) > 0 })

	if _, ok := s.CurrentResult(); ok {
		t.Fatal("no result expected before a tap")
	}

	c := s.Detections()[0].Center()
	d, ok, err := s.Tap(c.X, c.Y)
	if err != nil || !ok {
		t.Fatalf("Tap = %v, %v", ok, err)
	}
	if d.RawValue != sceneText {
		t.Errorf("tapped %q, want %q", d.RawValue, sceneText)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := s.Result(ctx)
	if err != nil || got.RawValue != sceneText {
		t.Errorf("Result = %q, %v", got.RawValue, err)
	}
	if st := s.Status(); st.Result == nil || st.Result.RawValue != sceneText {
		t.Errorf("status result = %+v", st.Result)
	}
}

func TestResultHonoursContext(t *testing.T) {
	s := newTestSession(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Result(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Result = %v, want deadline exceeded", err)
	}
}

func TestOutputsReceivePreview(t *testing.T) {
	out := &fakeOutput{}
	out.Start()
	s := newTestSession(t, Options{Outputs: []output.Output{out}})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "preview frames", func() bool { return out.frameCount() >= 3 })

	out.mu.Lock()
	defer out.mu.Unlock()
	if out.geometry.Width != 640 || out.geometry.Height != 480 {
		t.Errorf("bound geometry = %+v", out.geometry)
	}
	if out.last != image.Rect(0, 0, 640, 480) {
		t.Errorf("frame bounds = %v", out.last)
	}
}

type failingDetector struct{}

func (failingDetector) ReceiveFrame(vision.Frame) ([]vision.Detection, error) {
	return nil, errors.New("decode failed")
}

func (failingDetector) Release() {}

func TestPreviewSurvivesDetectorError(t *testing.T) {
	out := &fakeOutput{}
	out.Start()
	s := newTestSession(t, Options{Outputs: []output.Output{out}})

	r := &previewRenderer{inner: failingDetector{}, s: s}
	frame := vision.Frame{
		Data:   make([]byte, 8*6*3/2),
		Width:  8,
		Height: 6,
		Format: vision.NV21,
		ID:     1,
	}
	if _, err := r.ReceiveFrame(frame); err == nil {
		t.Error("expected the detector error to be returned")
	}
	if got := out.frameCount(); got != 1 {
		t.Errorf("output received %d frames, want 1", got)
	}
}

func TestStoppedOutputIsSkipped(t *testing.T) {
	out := &fakeOutput{}
	s := newTestSession(t, Options{Outputs: []output.Output{out}, AutoSelect: true})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Result(ctx); err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if n := out.frameCount(); n != 0 {
		t.Errorf("stopped output got %d frames", n)
	}
}

func TestBindFailureDiscardsSource(t *testing.T) {
	out := &fakeOutput{bindErr: errors.New("no window")}
	out.Start()
	s := newTestSession(t, Options{Outputs: []output.Output{out}})

	err := s.Start()
	if !errors.Is(err, camera.ErrSurfaceBind) {
		t.Fatalf("Start = %v, want ErrSurfaceBind", err)
	}
	s.mu.Lock()
	discarded := s.source == nil
	s.mu.Unlock()
	if !discarded {
		t.Error("source should be discarded after a bind failure")
	}

	st := s.Status()
	if st.Started || st.Message == "" {
		t.Errorf("status after failure = %+v", st)
	}
	if again := s.Status(); again.Message != "" {
		t.Errorf("message reported twice: %q", again.Message)
	}

	out.mu.Lock()
	out.bindErr = nil
	out.mu.Unlock()
	if err := s.Start(); err != nil {
		t.Fatalf("Start after fixing surface failed: %v", err)
	}
	if !s.Status().Started {
		t.Error("expected started")
	}
}

func TestZoom(t *testing.T) {
	s := newTestSession(t, Options{})

	if z, err := s.Zoom(2); err != nil || z != 0 {
		t.Fatalf("Zoom before start = %d, %v", z, err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// simulated max zoom is 30, so a step is 3
	z, err := s.Zoom(2)
	if err != nil {
		t.Fatalf("Zoom failed: %v", err)
	}
	if z != 6 {
		t.Errorf("zoom = %d, want 6", z)
	}
	if st := s.Status(); st.Zoom != 6 {
		t.Errorf("status zoom = %d", st.Zoom)
	}
}

func TestStopClearsDetections(t *testing.T) {
	s := newTestSession(t, Options{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "a detection", func() bool { return len(s.Detections()) > 0 })

	s.Stop()
	s.Stop()
	if n := len(s.Detections()); n != 0 {
		t.Errorf("%d detections after stop", n)
	}
	if s.Status().Started {
		t.Error("expected stopped")
	}
}

func TestEventsAndRelease(t *testing.T) {
	s := newTestSession(t, Options{})
	events, cancel := s.Subscribe()
	defer cancel()

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	timeout := time.After(5 * time.Second)
	var appeared *Event
	for appeared == nil {
		select {
		case ev := <-events:
			if ev.Type == EventAppeared {
				appeared = &ev
			}
		case <-timeout:
			t.Fatal("no appeared event")
		}
	}
	if appeared.Detection == nil || appeared.Detection.RawValue != sceneText {
		t.Errorf("appeared event = %+v", appeared)
	}

	s.Release()
	for range events {
	}
	if err := s.Start(); !errors.Is(err, ErrReleased) {
		t.Errorf("Start after release = %v, want ErrReleased", err)
	}
	if _, err := s.Zoom(2); !errors.Is(err, ErrReleased) {
		t.Errorf("Zoom after release = %v", err)
	}
}

func TestMirror(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(2, 0, color.RGBA{B: 255, A: 255})

	mirror(img)
	if c := img.RGBAAt(0, 0); c.B != 255 {
		t.Errorf("left pixel = %v, want blue", c)
	}
	if c := img.RGBAAt(2, 0); c.R != 255 {
		t.Errorf("right pixel = %v, want red", c)
	}
}

func TestUprightBounds(t *testing.T) {
	s := &Session{}
	s.view = output.Geometry{Width: 640, Height: 480, Rotation: 1}
	s.hasView = true
	l := &trackListener{s: s}

	d := l.upright(vision.Detection{Bounds: image.Rect(0, 0, 100, 50)})
	if want := image.Rect(430, 0, 480, 100); d.Bounds != want {
		t.Errorf("upright bounds = %v, want %v", d.Bounds, want)
	}
}
