package camera

import (
	"errors"
	"sync"

	"github.com/bryanchriswhite/ScanStreamer/internal/output"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

type fakeDriver struct {
	devices []DeviceInfo
	device  *fakeDevice
	openErr error
	opened  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		devices: []DeviceInfo{
			{ID: "back0", Facing: FacingBack, Orientation: 90},
			{ID: "front0", Facing: FacingFront, Orientation: 270},
		},
		device: newFakeDevice(),
	}
}

func (d *fakeDriver) Devices() ([]DeviceInfo, error) {
	return d.devices, nil
}

func (d *fakeDriver) Open(id string) (Device, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	d.device.reset()
	return d.device, nil
}

type fakeDevice struct {
	mu          sync.Mutex
	params      Parameters
	callback    PreviewCallback
	free        [][]byte
	previewing  bool
	released    int
	orientation int
	startErr    error
	setErr      error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		params: Parameters{
			PreviewSizes:   []Size{{1280, 720}, {640, 480}},
			PictureSizes:   []Size{{1920, 1080}, {640, 480}},
			FPSRanges:      []FPSRange{{15000, 15000}, {7000, 30000}},
			PreviewFormats: []vision.PixelFormat{vision.YUYV, vision.NV21},
			FocusModes:     []string{"auto"},
			FlashModes:     []string{"off", "torch"},
			ZoomSupported:  true,
			MaxZoom:        50,
			Zoom:           10,
		},
	}
}

func (d *fakeDevice) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free = nil
	d.callback = nil
	d.previewing = false
}

func (d *fakeDevice) Parameters() (Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params, nil
}

func (d *fakeDevice) SetParameters(p Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.setErr != nil {
		return d.setErr
	}
	d.params = p
	return nil
}

func (d *fakeDevice) SetDisplayOrientation(degrees int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orientation = degrees
	return nil
}

func (d *fakeDevice) SetPreviewCallback(cb PreviewCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
}

func (d *fakeDevice) AddCallbackBuffer(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.free = append(d.free, buf)
}

func (d *fakeDevice) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.previewing = true
	return nil
}

func (d *fakeDevice) StopPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previewing = false
	return nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
	return nil
}

// deliver fills the next free buffer and hands it to the callback, the
// way a driver thread would. It reports false when no buffer is free.
func (d *fakeDevice) deliver(fill byte) bool {
	d.mu.Lock()
	cb := d.callback
	if cb == nil || len(d.free) == 0 {
		d.mu.Unlock()
		return false
	}
	buf := d.free[0]
	d.free = d.free[1:]
	d.mu.Unlock()

	for i := range buf {
		buf[i] = fill
	}
	cb(buf)
	return true
}

func (d *fakeDevice) freeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.free)
}

// fakeDetector records frames and can block, fail or panic on demand
type fakeDetector struct {
	mu       sync.Mutex
	frames   []vision.Frame
	firsts   []byte
	err      error
	panicMsg string
	gate     chan struct{} // when set, each call waits for a receive
	entered  chan struct{}
	released int
}

func (d *fakeDetector) ReceiveFrame(f vision.Frame) ([]vision.Detection, error) {
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.gate != nil {
		<-d.gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, f)
	d.firsts = append(d.firsts, f.Data[0])
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	return nil, d.err
}

func (d *fakeDetector) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
}

func (d *fakeDetector) releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *fakeDetector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

type fakeSurface struct {
	bound []output.Geometry
	err   error
}

func (s *fakeSurface) Bind(g output.Geometry) error {
	s.bound = append(s.bound, g)
	return s.err
}

var errFake = errors.New("fake failure")
