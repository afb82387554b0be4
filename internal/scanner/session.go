package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/ScanStreamer/internal/barcode"
	"github.com/bryanchriswhite/ScanStreamer/internal/camera"
	"github.com/bryanchriswhite/ScanStreamer/internal/config"
	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/output"
	"github.com/bryanchriswhite/ScanStreamer/internal/overlay"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

var (
	// ErrReleased is returned by a session after Release
	ErrReleased = errors.New("scanner session released")
	// ErrNotStarted is returned by operations that need a running camera
	ErrNotStarted = errors.New("camera not started")
)

// Options configure a Session
type Options struct {
	Config config.Config

	// Driver overrides the driver named in the camera config
	Driver camera.Driver

	// Outputs receive rendered preview frames. Outputs that also
	// implement output.PreviewSurface are bound on every start.
	Outputs []output.Output

	// AutoSelect makes the first detection the session result without
	// waiting for a tap
	AutoSelect bool
}

// Status is a snapshot of the session
type Status struct {
	SessionID  string                  `json:"session_id"`
	Started    bool                    `json:"started"`
	Geometry   *camera.PreviewGeometry `json:"geometry,omitempty"`
	Stats      *camera.Stats           `json:"stats,omitempty"`
	Zoom       int                     `json:"zoom"`
	Detections []vision.Detection      `json:"detections"`
	Result     *vision.Detection       `json:"result,omitempty"`
	Message    string                  `json:"message,omitempty"`
}

// Session is the scanner lifecycle controller. It owns the camera source
// and its detector chain, feeds tracked detections to the overlay and
// renders the annotated preview into the outputs.
type Session struct {
	id      string
	cfg     config.Config
	driver  camera.Driver
	outputs []output.Output
	overlay *overlay.Manager
	events  *hub
	log     *zerolog.Logger
	auto    bool

	// mu serializes start, stop, zoom and release
	mu       sync.Mutex
	source   *camera.Source
	tracker  *vision.Tracker
	zoom     int
	message  string
	released bool

	// view is the upright preview the overlay draws in
	viewMu  sync.RWMutex
	view    output.Geometry
	hasView bool

	resultMu    sync.Mutex
	result      *vision.Detection
	resultReady chan struct{}
}

// New creates a stopped session
func New(opts Options) (*Session, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	driver := opts.Driver
	if driver == nil {
		d, err := camera.NewDriver(opts.Config.Camera)
		if err != nil {
			return nil, err
		}
		driver = d
	}

	id := uuid.New().String()
	s := &Session{
		id:          id,
		cfg:         opts.Config,
		driver:      driver,
		outputs:     opts.Outputs,
		overlay:     overlay.NewManager(opts.Config.Overlay.StrokeWidth),
		events:      newHub(),
		log:         logger.WithSession("scanner", id),
		auto:        opts.AutoSelect,
		resultReady: make(chan struct{}),
	}
	s.overlay.SetEnabled(opts.Config.Overlay.Enabled)
	if err := s.overlay.LoadFromConfig(opts.Config.Overlay.Widgets, s.statusLine); err != nil {
		return nil, fmt.Errorf("failed to load overlay widgets: %w", err)
	}
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Overlay returns the graphic overlay
func (s *Session) Overlay() *overlay.Manager {
	return s.overlay
}

// Start opens the camera and starts scanning. Start on a running session
// does nothing. Any previous result is discarded.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return ErrReleased
	}
	if s.source != nil && s.source.Started() {
		return nil
	}

	if s.source == nil {
		if err := s.buildSource(); err != nil {
			s.message = userMessage(err)
			return err
		}
	}

	s.clearResult()
	s.zoom = 0

	if err := s.source.Start(s); err != nil {
		if errors.Is(err, camera.ErrSurfaceBind) {
			// the source is not reused after a failed bind
			s.source.Release()
			s.source = nil
			s.tracker = nil
		}
		s.message = userMessage(err)
		s.log.Error().Err(err).Msg("Failed to start camera")
		return err
	}

	s.message = ""
	s.log.Info().Msg("Scanner started")
	s.events.publish(Event{Type: EventStarted})
	return nil
}

// buildSource creates the camera source and its detector chain:
// barcode decoder, then tracker, then preview rendering
func (s *Session) buildSource() error {
	tracker := vision.NewTracker(&trackListener{s: s}, s.cfg.Detector.MaxMissingFrames)
	chain := &previewRenderer{
		inner: vision.NewTrackingDetector(barcode.NewQRDetector(s.cfg.Detector.TryHarder), tracker),
		s:     s,
	}

	src, err := camera.NewSource(s.driver, chain, camera.ConfigFromSettings(s.cfg.Camera))
	if err != nil {
		chain.Release()
		return err
	}
	s.source = src
	s.tracker = tracker
	return nil
}

// Bind implements output.PreviewSurface. The camera source calls it with
// the negotiated preview before frames flow.
func (s *Session) Bind(geometry output.Geometry) error {
	w, h := geometry.Upright()

	s.viewMu.Lock()
	s.view = geometry
	s.hasView = true
	s.viewMu.Unlock()

	s.overlay.ClearGraphics()
	s.overlay.SetCameraInfo(w, h, geometry.Facing == string(camera.FacingFront))
	s.overlay.SetViewSize(w, h)

	for _, out := range s.outputs {
		surface, ok := out.(output.PreviewSurface)
		if !ok {
			continue
		}
		if err := surface.Bind(geometry); err != nil {
			return fmt.Errorf("%s: %w", out.Name(), err)
		}
	}
	return nil
}

// Stop stops the camera. The session can be started again.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil || !s.source.Started() {
		return
	}
	s.source.Stop()
	s.tracker.Reset()
	s.overlay.ClearGraphics()

	s.viewMu.Lock()
	s.hasView = false
	s.viewMu.Unlock()

	s.log.Info().Msg("Scanner stopped")
	s.events.publish(Event{Type: EventStopped})
}

// Release stops the camera and frees the detector. The session cannot be
// used afterwards and all subscriptions are closed.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	if s.source != nil {
		s.source.Release()
		s.source = nil
	}
	s.released = true
	s.events.close()
	s.log.Info().Msg("Scanner released")
}

// Zoom scales the camera zoom and returns the level applied
func (s *Session) Zoom(scale float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return 0, ErrReleased
	}
	if s.source == nil {
		return 0, nil
	}
	level, err := s.source.DoZoom(scale)
	if err != nil {
		return 0, err
	}
	s.zoom = level
	return level, nil
}

// Tap selects the barcode under a point in preview view coordinates and
// makes it the session result
func (s *Session) Tap(x, y int) (vision.Detection, bool, error) {
	s.mu.Lock()
	started := s.source != nil && s.source.Started()
	released := s.released
	s.mu.Unlock()

	if released {
		return vision.Detection{}, false, ErrReleased
	}
	if !started {
		return vision.Detection{}, false, ErrNotStarted
	}

	d, ok := s.overlay.Select(x, y)
	if !ok {
		s.log.Debug().Int("x", x).Int("y", y).Msg("Tap did not hit a barcode")
		return vision.Detection{}, false, nil
	}
	s.setResult(d)
	return d, true, nil
}

// Result waits for a selected barcode
func (s *Session) Result(ctx context.Context) (vision.Detection, error) {
	s.resultMu.Lock()
	ready := s.resultReady
	s.resultMu.Unlock()

	select {
	case <-ready:
		s.resultMu.Lock()
		defer s.resultMu.Unlock()
		return *s.result, nil
	case <-ctx.Done():
		return vision.Detection{}, ctx.Err()
	}
}

// CurrentResult returns the selected barcode, if any
func (s *Session) CurrentResult() (vision.Detection, bool) {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	if s.result == nil {
		return vision.Detection{}, false
	}
	return *s.result, true
}

func (s *Session) setResult(d vision.Detection) {
	s.resultMu.Lock()
	if s.result != nil {
		// the first selection since start stands
		s.resultMu.Unlock()
		return
	}
	s.result = &d
	close(s.resultReady)
	s.resultMu.Unlock()

	s.log.Info().
		Int("tracking_id", d.TrackingID).
		Str("format", d.Format).
		Str("value", d.RawValue).
		Msg("Barcode selected")
	s.events.publish(Event{Type: EventSelected, TrackingID: d.TrackingID, Detection: &d})
}

func (s *Session) clearResult() {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	if s.result != nil {
		s.result = nil
		s.resultReady = make(chan struct{})
	}
}

// Subscribe returns a channel of detection events and a function that
// cancels the subscription
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Detections returns the barcodes currently shown, in view coordinates
// before scaling
func (s *Session) Detections() []vision.Detection {
	return s.overlay.Detections()
}

// Status returns a snapshot of the session. A pending error message is
// reported once.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		SessionID:  s.id,
		Zoom:       s.zoom,
		Message:    s.message,
		Detections: s.overlay.Detections(),
	}
	s.message = ""
	if s.source != nil {
		if geom, ok := s.source.Geometry(); ok {
			st.Started = true
			st.Geometry = &geom
		}
		if stats, ok := s.source.Stats(); ok {
			st.Stats = &stats
		}
	}
	s.mu.Unlock()

	if d, ok := s.CurrentResult(); ok {
		st.Result = &d
	}
	return st
}

// statusLine feeds the HUD status widget
func (s *Session) statusLine() string {
	s.viewMu.RLock()
	view, ok := s.view, s.hasView
	s.viewMu.RUnlock()
	if !ok {
		return "camera stopped"
	}
	w, h := view.Upright()
	n := len(s.overlay.Detections())
	return fmt.Sprintf("%s %dx%d  codes: %d", view.Facing, w, h, n)
}

func (s *Session) currentView() (output.Geometry, bool) {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view, s.hasView
}

// userMessage turns a start error into text for the user
func userMessage(err error) string {
	switch {
	case errors.Is(err, camera.ErrInvalidConfig):
		return "Camera configuration is invalid: " + err.Error()
	case errors.Is(err, camera.ErrDeviceNotFound):
		return "No camera found for the requested facing"
	case errors.Is(err, camera.ErrSurfaceBind):
		return "Preview could not be displayed: " + err.Error()
	case camera.IsDeviceError(err):
		return "Camera is unavailable: " + err.Error()
	default:
		return err.Error()
	}
}

// trackListener maps tracked detections from sensor to upright preview
// coordinates before they reach the overlay
type trackListener struct {
	s *Session
}

func (l *trackListener) upright(d vision.Detection) vision.Detection {
	view, ok := l.s.currentView()
	if ok {
		d.Bounds = vision.RotateRect(d.Bounds, view.Width, view.Height, view.Rotation)
	}
	return d
}

func (l *trackListener) OnDetectionAppeared(id int, d vision.Detection) {
	d = l.upright(d)
	l.s.overlay.OnDetectionAppeared(id, d)
	l.s.events.publish(Event{Type: EventAppeared, TrackingID: id, Detection: &d})
	if l.s.auto {
		l.s.setResult(d)
	}
}

func (l *trackListener) OnDetectionUpdated(id int, d vision.Detection) {
	l.s.overlay.OnDetectionUpdated(id, l.upright(d))
}

func (l *trackListener) OnDetectionMissing(id int) {
	l.s.overlay.OnDetectionMissing(id)
}

func (l *trackListener) OnDetectionLost(id int) {
	l.s.overlay.OnDetectionLost(id)
	l.s.events.publish(Event{Type: EventLost, TrackingID: id})
}

// previewRenderer is the last stage of the detector chain. After the
// tracker has run it draws the frame, upright and mirrored for the front
// camera, with the overlay on top, into every running output.
type previewRenderer struct {
	inner vision.Detector
	s     *Session
}

func (r *previewRenderer) ReceiveFrame(frame vision.Frame) ([]vision.Detection, error) {
	dets, err := r.inner.ReceiveFrame(frame)
	// the preview keeps running when detection fails
	r.render(frame)
	if err != nil {
		return nil, err
	}
	return dets, nil
}

func (r *previewRenderer) render(frame vision.Frame) {
	var running []output.Output
	for _, out := range r.s.outputs {
		if out.IsRunning() {
			running = append(running, out)
		}
	}
	if len(running) == 0 {
		return
	}

	img, err := frame.RGBA()
	if err != nil {
		r.s.log.Warn().Err(err).Uint64("frame_id", frame.ID).Msg("Failed to convert preview frame")
		return
	}
	img = vision.RotateRGBA(img, frame.Rotation)
	if view, ok := r.s.currentView(); ok && view.Facing == string(camera.FacingFront) {
		mirror(img)
	}
	r.s.overlay.Render(img)

	for _, out := range running {
		if err := out.WriteFrame(img); err != nil {
			r.s.log.Debug().Err(err).Str("output", out.Name()).Msg("Failed to write preview frame")
		}
	}
}

func (r *previewRenderer) Release() {
	r.inner.Release()
}

// mirror flips img horizontally in place
func mirror(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for l, rr := b.Min.X, b.Max.X-1; l < rr; l, rr = l+1, rr-1 {
			li, ri := img.PixOffset(l, y), img.PixOffset(rr, y)
			for k := 0; k < 4; k++ {
				img.Pix[li+k], img.Pix[ri+k] = img.Pix[ri+k], img.Pix[li+k]
			}
		}
	}
}
