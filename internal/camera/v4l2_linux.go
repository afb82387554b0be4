//go:build linux

package camera

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/blackjack/webcam"

	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// V4L2 control ids
const (
	cidFocusAuto    webcam.ControlID = 0x009a090c
	cidZoomAbsolute webcam.ControlID = 0x009a090d
	cidFlashLEDMode webcam.ControlID = 0x009c0901
)

const (
	frameTimeoutSecs   = 1
	maxFrameTimeouts   = 5
	focusModeAuto      = "continuous-video"
	focusModeFixed     = "fixed"
	flashModeOff       = "off"
	flashModeOn        = "on"
	flashModeTorch     = "torch"
	streamingBufferCnt = 4
)

// Sizes offered for stepwise frame size ranges
var stepwiseSizes = []Size{
	{3840, 2160}, {2592, 1944}, {1920, 1080}, {1600, 1200}, {1280, 960},
	{1280, 720}, {1024, 768}, {800, 600}, {640, 480}, {320, 240},
}

// V4L2Driver opens Video4Linux devices listed in the configuration
type V4L2Driver struct {
	devices []DeviceInfo
}

// NewV4L2Driver creates a driver for the given device nodes
func NewV4L2Driver(devices []DeviceInfo) *V4L2Driver {
	return &V4L2Driver{devices: devices}
}

// Devices implements Driver, listing the configured nodes that exist
func (d *V4L2Driver) Devices() ([]DeviceInfo, error) {
	var present []DeviceInfo
	for _, info := range d.devices {
		if _, err := os.Stat(info.ID); err != nil {
			logger.WithComponent("v4l2").Debug().
				Str("device", info.ID).
				Err(err).
				Msg("Configured camera not present")
			continue
		}
		present = append(present, info)
	}
	return present, nil
}

// Open implements Driver
func (d *V4L2Driver) Open(id string) (Device, error) {
	cam, err := webcam.Open(id)
	if err != nil {
		return nil, err
	}
	dev := &v4l2Device{path: id, cam: cam}
	if err := dev.probe(); err != nil {
		cam.Close()
		return nil, err
	}
	return dev, nil
}

type v4l2Device struct {
	path string
	cam  *webcam.Webcam

	mu       sync.Mutex
	params   Parameters
	zoomMin  int32
	applied  bool // image format has been set at least once
	callback PreviewCallback
	stop     chan struct{}
	wg       sync.WaitGroup
	closed   bool

	freeMu sync.Mutex
	free   [][]byte
}

// probe reads the capabilities the device reports
func (d *v4l2Device) probe() error {
	var p Parameters

	supported := d.cam.GetSupportedFormats()
	for code := range supported {
		if f, ok := vision.FormatFromFourCC(uint32(code)); ok {
			p.PreviewFormats = append(p.PreviewFormats, f)
		}
	}
	format, ok := selectPixelFormat(p.PreviewFormats)
	if !ok {
		return fmt.Errorf("%s offers no NV21, NV12 or YUYV preview", d.path)
	}
	p.PreviewFormat = format

	seen := map[Size]bool{}
	for _, fs := range d.cam.GetSupportedFrameSizes(webcam.PixelFormat(format.FourCC())) {
		if fs.StepWidth == 0 || (fs.MinWidth == fs.MaxWidth && fs.MinHeight == fs.MaxHeight) {
			s := Size{int(fs.MaxWidth), int(fs.MaxHeight)}
			if !seen[s] {
				seen[s] = true
				p.PreviewSizes = append(p.PreviewSizes, s)
			}
			continue
		}
		for _, s := range stepwiseSizes {
			if fitsStepwise(fs, s) && !seen[s] {
				seen[s] = true
				p.PreviewSizes = append(p.PreviewSizes, s)
			}
		}
	}
	sort.Slice(p.PreviewSizes, func(i, j int) bool {
		return p.PreviewSizes[i].Width*p.PreviewSizes[i].Height > p.PreviewSizes[j].Width*p.PreviewSizes[j].Height
	})
	// V4L2 has no separate still pipeline, pictures come at preview sizes
	p.PictureSizes = append([]Size(nil), p.PreviewSizes...)

	rates := map[FPSRange]bool{}
	for _, s := range p.PreviewSizes {
		for _, fr := range d.cam.GetSupportedFramerates(webcam.PixelFormat(format.FourCC()), uint32(s.Width), uint32(s.Height)) {
			r, ok := fpsRangeOf(fr)
			if ok && !rates[r] {
				rates[r] = true
				p.FPSRanges = append(p.FPSRanges, r)
			}
		}
	}
	if len(p.FPSRanges) == 0 {
		// drivers that do not enumerate intervals still stream
		p.FPSRanges = []FPSRange{{30000, 30000}}
	}

	controls := d.cam.GetControls()
	if c, ok := controls[cidZoomAbsolute]; ok && c.Max > c.Min {
		p.ZoomSupported = true
		p.MaxZoom = int(c.Max - c.Min)
		d.zoomMin = c.Min
		if v, err := d.cam.GetControl(cidZoomAbsolute); err == nil {
			p.Zoom = int(v - c.Min)
		}
	}
	if _, ok := controls[cidFocusAuto]; ok {
		p.FocusModes = []string{focusModeAuto, focusModeFixed}
		p.FocusMode = focusModeFixed
		if v, err := d.cam.GetControl(cidFocusAuto); err == nil && v != 0 {
			p.FocusMode = focusModeAuto
		}
	}
	if _, ok := controls[cidFlashLEDMode]; ok {
		p.FlashModes = []string{flashModeOff, flashModeOn, flashModeTorch}
		p.FlashMode = flashModeOff
	}

	if len(p.PreviewSizes) > 0 {
		p.PreviewSize = p.PreviewSizes[0]
	}
	if len(p.FPSRanges) > 0 {
		p.FPS = p.FPSRanges[0]
	}

	d.params = p
	logger.WithComponent("v4l2").Debug().
		Str("device", d.path).
		Str("format", format.String()).
		Int("sizes", len(p.PreviewSizes)).
		Int("fps_ranges", len(p.FPSRanges)).
		Bool("zoom", p.ZoomSupported).
		Msg("Probed camera")
	return nil
}

func fitsStepwise(fs webcam.FrameSize, s Size) bool {
	w, h := uint32(s.Width), uint32(s.Height)
	if w < fs.MinWidth || w > fs.MaxWidth || h < fs.MinHeight || h > fs.MaxHeight {
		return false
	}
	if fs.StepWidth > 0 && (w-fs.MinWidth)%fs.StepWidth != 0 {
		return false
	}
	if fs.StepHeight > 0 && (h-fs.MinHeight)%fs.StepHeight != 0 {
		return false
	}
	return true
}

// fpsRangeOf converts a frame interval range to an fps range scaled by 1000.
// A longer interval means a lower rate.
func fpsRangeOf(fr webcam.FrameRate) (FPSRange, bool) {
	if fr.MinNumerator == 0 || fr.MaxNumerator == 0 {
		return FPSRange{}, false
	}
	low := int(1000 * float64(fr.MinDenominator) / float64(fr.MaxNumerator))
	high := int(1000 * float64(fr.MaxDenominator) / float64(fr.MinNumerator))
	if low > high {
		low, high = high, low
	}
	return FPSRange{Min: low, Max: high}, low > 0
}

func (d *v4l2Device) Parameters() (Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return Parameters{}, fmt.Errorf("camera %s released", d.path)
	}
	return d.params, nil
}

func (d *v4l2Device) SetParameters(p Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("camera %s released", d.path)
	}
	streaming := d.stop != nil

	if !d.applied || p.PreviewSize != d.params.PreviewSize || p.PreviewFormat != d.params.PreviewFormat || p.FPS != d.params.FPS {
		if streaming {
			return fmt.Errorf("cannot change preview format while streaming")
		}
		f, w, h, err := d.cam.SetImageFormat(webcam.PixelFormat(p.PreviewFormat.FourCC()), uint32(p.PreviewSize.Width), uint32(p.PreviewSize.Height))
		if err != nil {
			return fmt.Errorf("set image format: %w", err)
		}
		if uint32(f) != p.PreviewFormat.FourCC() || int(w) != p.PreviewSize.Width || int(h) != p.PreviewSize.Height {
			return fmt.Errorf("device chose %dx%d in format %08x", w, h, uint32(f))
		}
		if p.FPS.Max > 0 {
			if err := d.cam.SetFramerate(float32(p.FPS.Max) / 1000); err != nil {
				logger.WithComponent("v4l2").Warn().Err(err).Str("device", d.path).Msg("Failed to set frame rate")
			}
		}
		d.applied = true
	}

	if p.ZoomSupported && p.Zoom != d.params.Zoom {
		if err := d.cam.SetControl(cidZoomAbsolute, d.zoomMin+int32(p.Zoom)); err != nil {
			return fmt.Errorf("set zoom: %w", err)
		}
	}
	if p.FocusMode != d.params.FocusMode && containsString(p.FocusModes, p.FocusMode) {
		value := int32(0)
		if p.FocusMode == focusModeAuto {
			value = 1
		}
		if err := d.cam.SetControl(cidFocusAuto, value); err != nil {
			return fmt.Errorf("set focus mode: %w", err)
		}
	}
	if p.FlashMode != d.params.FlashMode && containsString(p.FlashModes, p.FlashMode) {
		value := map[string]int32{flashModeOff: 0, flashModeOn: 1, flashModeTorch: 2}[p.FlashMode]
		if err := d.cam.SetControl(cidFlashLEDMode, value); err != nil {
			return fmt.Errorf("set flash mode: %w", err)
		}
	}

	d.params = p
	return nil
}

// SetDisplayOrientation is recorded only, V4L2 has no display path
func (d *v4l2Device) SetDisplayOrientation(degrees int) error {
	if degrees%90 != 0 {
		return fmt.Errorf("invalid display orientation %d", degrees)
	}
	return nil
}

func (d *v4l2Device) SetPreviewCallback(cb PreviewCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
	if cb == nil {
		d.freeMu.Lock()
		d.free = nil
		d.freeMu.Unlock()
	}
}

func (d *v4l2Device) AddCallbackBuffer(buf []byte) {
	d.freeMu.Lock()
	defer d.freeMu.Unlock()
	d.free = append(d.free, buf)
}

func (d *v4l2Device) takeBuffer() []byte {
	d.freeMu.Lock()
	defer d.freeMu.Unlock()
	if len(d.free) == 0 {
		return nil
	}
	buf := d.free[0]
	d.free = d.free[1:]
	return buf
}

func (d *v4l2Device) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("camera %s released", d.path)
	}
	if d.stop != nil {
		return nil
	}

	if err := d.cam.SetBufferCount(streamingBufferCnt); err != nil {
		logger.WithComponent("v4l2").Debug().Err(err).Msg("Failed to set buffer count")
	}
	if err := d.cam.StartStreaming(); err != nil {
		return fmt.Errorf("start streaming: %w", err)
	}

	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.readLoop(d.stop)
	return nil
}

func (d *v4l2Device) readLoop(stop <-chan struct{}) {
	defer d.wg.Done()
	log := logger.WithComponent("v4l2")

	timeouts := 0
	var dropped uint64
	for {
		select {
		case <-stop:
			log.Debug().Str("device", d.path).Uint64("dropped", dropped).Msg("Read loop stopped")
			return
		default:
		}

		err := d.cam.WaitForFrame(frameTimeoutSecs)
		switch err.(type) {
		case nil:
			timeouts = 0
		case *webcam.Timeout:
			timeouts++
			if timeouts == maxFrameTimeouts {
				log.Warn().Str("device", d.path).Int("timeouts", timeouts).Msg("Camera is not delivering frames")
			}
			continue
		default:
			log.Error().Err(err).Str("device", d.path).Msg("Failed waiting for frame")
			return
		}

		frame, err := d.cam.ReadFrame()
		if err != nil {
			log.Warn().Err(err).Str("device", d.path).Msg("Failed to read frame")
			continue
		}
		if len(frame) == 0 {
			continue
		}

		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()
		if cb == nil {
			continue
		}

		buf := d.takeBuffer()
		if buf == nil {
			dropped++
			continue
		}
		// the mmap'd frame is reused by the kernel, copy it out
		copy(buf, frame)
		cb(buf)
	}
}

func (d *v4l2Device) StopPreview() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	d.wg.Wait()
	return d.cam.StopStreaming()
}

func (d *v4l2Device) Release() error {
	stopErr := d.StopPreview()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return stopErr
	}
	d.closed = true
	d.callback = nil
	if err := d.cam.Close(); err != nil {
		return err
	}
	return stopErr
}
