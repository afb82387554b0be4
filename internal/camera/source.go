package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScanStreamer/internal/config"
	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/output"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

const (
	// previewBuffers is the number of callback buffers registered with the
	// device: one pending, one being processed, two being filled.
	previewBuffers = 4

	maxPreviewDimension = 1000000
)

var workerJoinTimeout = 2 * time.Second

// Config is the requested camera setup. Devices may not support the exact
// values; the closest supported ones are negotiated on Start.
type Config struct {
	Facing          Facing
	Width           int
	Height          int
	FPS             float64
	FocusMode       string
	FlashMode       string
	DisplayRotation int // degrees
}

// Validate rejects configs no device could satisfy
func (c Config) Validate() error {
	if _, err := ParseFacing(string(c.Facing)); err != nil {
		return err
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: invalid fps %v", ErrInvalidConfig, c.FPS)
	}
	if c.Width <= 0 || c.Width > maxPreviewDimension || c.Height <= 0 || c.Height > maxPreviewDimension {
		return fmt.Errorf("%w: invalid preview size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.DisplayRotation%90 != 0 {
		return fmt.Errorf("%w: display rotation %d is not a multiple of 90", ErrInvalidConfig, c.DisplayRotation)
	}
	return nil
}

// ConfigFromSettings builds a source config from the camera settings
func ConfigFromSettings(cam config.CameraConfig) Config {
	return Config{
		Facing:          Facing(cam.Facing),
		Width:           cam.PreviewWidth,
		Height:          cam.PreviewHeight,
		FPS:             cam.FPS,
		FocusMode:       cam.FocusMode,
		FlashMode:       cam.FlashMode,
		DisplayRotation: cam.DisplayRotation,
	}
}

// PreviewGeometry is what was negotiated with the device on Start
type PreviewGeometry struct {
	DeviceID     string             `json:"device_id"`
	PreviewSize  Size               `json:"preview_size"`
	PictureSize  *Size              `json:"picture_size,omitempty"`
	FPS          FPSRange           `json:"fps"`
	Format       vision.PixelFormat `json:"-"`
	Rotation     int                `json:"rotation"` // quarter turns
	DisplayAngle int                `json:"display_angle"`
	Facing       Facing             `json:"facing"`
	FocusMode    string             `json:"focus_mode"`
	FlashMode    string             `json:"flash_mode"`
}

// Surface returns the geometry handed to a preview surface
func (g PreviewGeometry) Surface() output.Geometry {
	return output.Geometry{
		Width:        g.PreviewSize.Width,
		Height:       g.PreviewSize.Height,
		Rotation:     g.Rotation,
		DisplayAngle: g.DisplayAngle,
		Facing:       string(g.Facing),
		FPS:          float64(g.FPS.Max) / 1000,
	}
}

// Stats is a snapshot of the running pipeline
type Stats struct {
	Slot          SlotStats   `json:"slot"`
	Worker        WorkerStats `json:"worker"`
	WorkerState   string      `json:"worker_state"`
	BuffersDriver int         `json:"buffers_driver"`
	BuffersWorker int         `json:"buffers_worker"`
}

// Source manages a camera in conjunction with a detector. It receives
// preview frames at the device frame rate and hands the most recent one
// to the detector as fast as the detector can take them.
type Source struct {
	// mu serializes start, stop, zoom and release
	mu       sync.Mutex
	driver   Driver
	detector vision.Detector
	config   Config

	device   Device
	geometry *PreviewGeometry
	pool     *BufferPool
	slot     *PendingSlot
	worker   *Worker
	released bool

	releaseDetector sync.Once
	lagging         []*Worker // stopped workers still inside a detector call
}

// NewSource validates cfg and creates a stopped source
func NewSource(driver Driver, detector vision.Detector, cfg Config) (*Source, error) {
	if driver == nil || detector == nil {
		return nil, fmt.Errorf("%w: driver and detector are required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		driver:   driver,
		detector: detector,
		config:   cfg,
	}, nil
}

// Config returns the requested configuration
func (s *Source) Config() Config {
	return s.config
}

// Start opens the camera and starts streaming frames to the detector.
// surface may be nil. Start on a running source does nothing. On error
// the device is released and nothing is left running.
func (s *Source) Start(surface output.PreviewSurface) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	if s.device != nil {
		return nil
	}

	log := logger.WithComponent("camera")

	info, err := s.resolveDevice()
	if err != nil {
		return err
	}

	dev, err := s.driver.Open(info.ID)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceOpen, info.ID, err)
	}

	started := false
	var worker *Worker
	defer func() {
		if started {
			return
		}
		if worker != nil {
			worker.Shutdown()
			worker.Join(workerJoinTimeout)
		}
		dev.SetPreviewCallback(nil)
		if err := dev.Release(); err != nil {
			log.Warn().Err(err).Str("device", info.ID).Msg("Failed to release camera after start error")
		}
	}()

	geom, err := s.configure(dev, info)
	if err != nil {
		return err
	}

	size := RequiredBufferSize(geom.PreviewSize.Width, geom.PreviewSize.Height, geom.Format)
	pool, err := NewBufferPool(previewBuffers, size)
	if err != nil {
		return err
	}
	pool.SetReturnFunc(dev.AddCallbackBuffer)
	slot := NewPendingSlot(pool)

	rotation := geom.Rotation
	dev.SetPreviewCallback(func(data []byte) {
		slot.Offer(data, rotation)
	})
	for _, buf := range pool.Buffers() {
		dev.AddCallbackBuffer(buf)
	}

	if surface != nil {
		if err := surface.Bind(geom.Surface()); err != nil {
			return fmt.Errorf("%w: %v", ErrSurfaceBind, err)
		}
	}

	worker = NewWorker(slot, pool, s.detector, geom.PreviewSize.Width, geom.PreviewSize.Height, geom.Format)
	worker.Start()

	if err := dev.StartPreview(); err != nil {
		return fmt.Errorf("%w: start preview: %v", ErrDeviceOpen, err)
	}

	started = true
	s.device = dev
	s.geometry = geom
	s.pool = pool
	s.slot = slot
	s.worker = worker

	log.Info().
		Str("device", info.ID).
		Str("facing", string(geom.Facing)).
		Str("preview", geom.PreviewSize.String()).
		Str("format", geom.Format.String()).
		Int("fps_min", geom.FPS.Min).
		Int("fps_max", geom.FPS.Max).
		Int("rotation", geom.Rotation).
		Int("buffer_size", size).
		Msg("Camera started")
	return nil
}

func (s *Source) resolveDevice() (DeviceInfo, error) {
	devices, err := s.driver.Devices()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	for _, d := range devices {
		if d.Facing == s.config.Facing {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: no %s camera", ErrDeviceNotFound, s.config.Facing)
}

// configure negotiates and applies preview settings
func (s *Source) configure(dev Device, info DeviceInfo) (*PreviewGeometry, error) {
	log := logger.WithComponent("camera")

	params, err := dev.Parameters()
	if err != nil {
		return nil, fmt.Errorf("%w: read parameters: %v", ErrDeviceOpen, err)
	}

	pair, ok := selectSizePair(params.PreviewSizes, params.PictureSizes, s.config.Width, s.config.Height)
	if !ok {
		return nil, ErrNoPreviewSize
	}
	fps, ok := selectFPSRange(params.FPSRanges, s.config.FPS)
	if !ok {
		return nil, ErrNoFPSRange
	}
	format, ok := selectPixelFormat(params.PreviewFormats)
	if !ok {
		return nil, ErrNoPixelFormat
	}
	rot := computeRotation(info.Facing, info.Orientation, s.config.DisplayRotation)

	params.PreviewSize = pair.Preview
	params.PictureSize = Size{}
	if pair.Picture != nil {
		params.PictureSize = *pair.Picture
	}
	params.FPS = fps
	params.PreviewFormat = format
	params.Rotation = rot.angle

	if s.config.FocusMode != "" {
		if containsString(params.FocusModes, s.config.FocusMode) {
			params.FocusMode = s.config.FocusMode
		} else {
			log.Info().
				Str("focus_mode", s.config.FocusMode).
				Msg("Camera focus mode is not supported on this device")
		}
	}
	if s.config.FlashMode != "" {
		if containsString(params.FlashModes, s.config.FlashMode) {
			params.FlashMode = s.config.FlashMode
		} else {
			log.Info().
				Str("flash_mode", s.config.FlashMode).
				Msg("Camera flash mode is not supported on this device")
		}
	}

	if err := dev.SetDisplayOrientation(rot.displayAngle); err != nil {
		return nil, fmt.Errorf("%w: set display orientation: %v", ErrDeviceOpen, err)
	}
	if err := dev.SetParameters(params); err != nil {
		return nil, fmt.Errorf("%w: set parameters: %v", ErrDeviceOpen, err)
	}

	return &PreviewGeometry{
		DeviceID:     info.ID,
		PreviewSize:  pair.Preview,
		PictureSize:  pair.Picture,
		FPS:          fps,
		Format:       format,
		Rotation:     rot.quarterTurns,
		DisplayAngle: rot.displayAngle,
		Facing:       info.Facing,
		FocusMode:    params.FocusMode,
		FlashMode:    params.FlashMode,
	}, nil
}

// Stop stops streaming and closes the device. The source can be started
// again. Stop on a stopped source does nothing.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Source) stopLocked() {
	if s.device == nil {
		return
	}
	log := logger.WithComponent("camera")

	s.worker.Shutdown()
	if !s.worker.Join(workerJoinTimeout) {
		log.Warn().
			Str("state", s.worker.State().String()).
			Msg("Frame processing did not stop in time")
		s.lagging = append(s.lagging, s.worker)
	}

	// late deliveries from the device must not resolve to a buffer
	s.pool.Clear()

	if err := s.device.StopPreview(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop preview")
	}
	s.device.SetPreviewCallback(nil)
	if err := s.device.Release(); err != nil {
		log.Warn().Err(err).Msg("Failed to release camera")
	}

	log.Info().
		Str("device", s.geometry.DeviceID).
		Uint64("frames", s.slot.Stats().Published).
		Uint64("processed", s.worker.Stats().Processed).
		Msg("Camera stopped")

	s.device = nil
	s.geometry = nil
	s.slot = nil
	s.worker = nil
	s.pool = nil
}

// Release stops the source and releases the detector. The source cannot
// be used afterwards.
func (s *Source) Release() {
	s.mu.Lock()
	s.stopLocked()
	s.released = true
	lagging := s.lagging
	s.lagging = nil
	s.mu.Unlock()

	s.releaseDetector.Do(func() {
		if len(lagging) == 0 {
			s.detector.Release()
			return
		}
		logger.WithComponent("camera").Warn().
			Int("workers", len(lagging)).
			Msg("Detector release waits for frame processing to stop")
		go func() {
			for _, w := range lagging {
				<-w.done
			}
			s.detector.Release()
		}()
	})
}

// DoZoom scales the zoom level and returns the level applied. It does
// nothing when the source is stopped or the device cannot zoom.
func (s *Source) DoZoom(scale float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return 0, nil
	}

	params, err := s.device.Parameters()
	if err != nil {
		return 0, fmt.Errorf("read parameters: %w", err)
	}
	if !params.ZoomSupported {
		logger.WithComponent("camera").Warn().Msg("Zoom is not supported on this device")
		return params.Zoom, nil
	}

	params.Zoom = computeZoom(params.Zoom, params.MaxZoom, scale)
	if err := s.device.SetParameters(params); err != nil {
		return 0, fmt.Errorf("set zoom: %w", err)
	}

	logger.WithComponent("camera").Debug().
		Float64("scale", scale).
		Int("zoom", params.Zoom).
		Int("max_zoom", params.MaxZoom).
		Msg("Zoom applied")
	return params.Zoom, nil
}

// Geometry returns the negotiated preview, if started
func (s *Source) Geometry() (PreviewGeometry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.geometry == nil {
		return PreviewGeometry{}, false
	}
	return *s.geometry, true
}

// Started reports whether the camera is streaming
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device != nil
}

// Stats returns pipeline counters, if started
func (s *Source) Stats() (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return Stats{}, false
	}
	return Stats{
		Slot:          s.slot.Stats(),
		Worker:        s.worker.Stats(),
		WorkerState:   s.worker.State().String(),
		BuffersDriver: s.pool.Owned(OwnerDriver),
		BuffersWorker: s.pool.Owned(OwnerWorker),
	}, true
}

// IsDeviceError reports whether err came from the camera rather than the
// surface or the config
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrDeviceOpen) ||
		errors.Is(err, ErrNoPreviewSize) || errors.Is(err, ErrNoFPSRange) ||
		errors.Is(err, ErrNoPixelFormat)
}
