package camera

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/barcode"
	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// SimulatedDriver provides one back and one front camera that film a QR
// code on a white background. It needs no hardware.
type SimulatedDriver struct {
	text string
}

// NewSimulatedDriver creates a driver whose scene encodes text
func NewSimulatedDriver(text string) *SimulatedDriver {
	if text == "" {
		text = "scanstreamer"
	}
	return &SimulatedDriver{text: text}
}

// Devices implements Driver
func (d *SimulatedDriver) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{
		{ID: "sim:back", Facing: FacingBack, Orientation: 0},
		{ID: "sim:front", Facing: FacingFront, Orientation: 0},
	}, nil
}

// Open implements Driver
func (d *SimulatedDriver) Open(id string) (Device, error) {
	if id != "sim:back" && id != "sim:front" {
		return nil, fmt.Errorf("unknown simulated camera %q", id)
	}
	return &simulatedDevice{
		id:   id,
		text: d.text,
		params: Parameters{
			PreviewSizes:   []Size{{1920, 1080}, {1280, 720}, {640, 480}, {320, 240}},
			PictureSizes:   []Size{{3840, 2160}, {2592, 1944}},
			FPSRanges:      []FPSRange{{15000, 15000}, {15000, 30000}, {30000, 30000}},
			PreviewFormats: []vision.PixelFormat{vision.NV21, vision.YUYV},
			FocusModes:     []string{"auto", "continuous-picture", "fixed"},
			FlashModes:     []string{"off", "torch"},
			ZoomSupported:  true,
			MaxZoom:        30,
			PreviewSize:    Size{640, 480},
			FPS:            FPSRange{30000, 30000},
			PreviewFormat:  vision.NV21,
			FocusMode:      "fixed",
			FlashMode:      "off",
		},
	}, nil
}

type simulatedDevice struct {
	id   string
	text string

	mu       sync.Mutex
	params   Parameters
	callback PreviewCallback
	released bool
	stop     chan struct{}
	wg       sync.WaitGroup

	freeMu sync.Mutex
	free   [][]byte
}

func (d *simulatedDevice) Parameters() (Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return Parameters{}, fmt.Errorf("camera %s released", d.id)
	}
	return d.params, nil
}

func (d *simulatedDevice) SetParameters(p Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return fmt.Errorf("camera %s released", d.id)
	}
	if p.Zoom < 0 || p.Zoom > d.params.MaxZoom {
		return fmt.Errorf("zoom %d out of range", p.Zoom)
	}
	// a running preview keeps its size and format
	if d.stop != nil && (p.PreviewSize != d.params.PreviewSize || p.PreviewFormat != d.params.PreviewFormat) {
		return fmt.Errorf("cannot change preview size while streaming")
	}
	d.params = p
	return nil
}

func (d *simulatedDevice) SetDisplayOrientation(degrees int) error {
	if degrees%90 != 0 {
		return fmt.Errorf("invalid display orientation %d", degrees)
	}
	return nil
}

func (d *simulatedDevice) SetPreviewCallback(cb PreviewCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
	if cb == nil {
		d.freeMu.Lock()
		d.free = nil
		d.freeMu.Unlock()
	}
}

func (d *simulatedDevice) AddCallbackBuffer(buf []byte) {
	d.freeMu.Lock()
	defer d.freeMu.Unlock()
	d.free = append(d.free, buf)
}

func (d *simulatedDevice) takeBuffer() []byte {
	d.freeMu.Lock()
	defer d.freeMu.Unlock()
	if len(d.free) == 0 {
		return nil
	}
	buf := d.free[0]
	d.free = d.free[1:]
	return buf
}

func (d *simulatedDevice) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return fmt.Errorf("camera %s released", d.id)
	}
	if d.stop != nil {
		return nil
	}

	size := d.params.PreviewSize.Width
	if h := d.params.PreviewSize.Height; h < size {
		size = h
	}
	code, err := barcode.EncodeQR(d.text, size/2)
	if err != nil {
		return fmt.Errorf("failed to render scene: %w", err)
	}

	fps := float64(d.params.FPS.Max) / 1000
	if fps <= 0 {
		fps = 15
	}
	interval := time.Duration(float64(time.Second) / fps)

	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.stream(code, interval, d.stop)
	return nil
}

func (d *simulatedDevice) stream(code *image.Gray, interval time.Duration, stop <-chan struct{}) {
	defer d.wg.Done()

	log := logger.WithComponent("simulated")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var dropped uint64
	for {
		select {
		case <-stop:
			log.Debug().Str("device", d.id).Uint64("dropped", dropped).Msg("Simulated stream stopped")
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		cb := d.callback
		params := d.params
		d.mu.Unlock()
		if cb == nil {
			continue
		}

		buf := d.takeBuffer()
		if buf == nil {
			dropped++
			continue
		}
		renderScene(buf, params, code)
		cb(buf)
	}
}

// renderScene paints the code centred on a white frame, magnified by zoom
func renderScene(buf []byte, p Parameters, code *image.Gray) {
	w, h := p.PreviewSize.Width, p.PreviewSize.Height
	format := p.PreviewFormat
	if len(buf) < format.FrameSize(w, h) {
		return
	}

	scale := 1.0
	if p.MaxZoom > 0 {
		scale += float64(p.Zoom) / float64(p.MaxZoom)
	}
	cw := code.Bounds().Dx()
	side := int(float64(cw) * scale)
	ox, oy := (w-side)/2, (h-side)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			luma := byte(0xff)
			cx, cy := x-ox, y-oy
			if cx >= 0 && cy >= 0 && cx < side && cy < side {
				luma = code.Pix[int(float64(cy)/scale)*code.Stride+int(float64(cx)/scale)]
			}
			if format == vision.YUYV {
				buf[2*(y*w+x)] = luma
				buf[2*(y*w+x)+1] = 128
			} else {
				buf[y*w+x] = luma
			}
		}
	}
	if format != vision.YUYV {
		for i := w * h; i < format.FrameSize(w, h); i++ {
			buf[i] = 128
		}
	}
}

func (d *simulatedDevice) StopPreview() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
	return nil
}

func (d *simulatedDevice) Release() error {
	if err := d.StopPreview(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	d.callback = nil
	return nil
}
