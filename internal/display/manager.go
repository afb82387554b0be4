package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScanStreamer/internal/config"
	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/output"
)

// Manager shows the camera preview in a local X11 window.
// It implements output.Output and output.PreviewSurface.
type Manager struct {
	conn          *xgb.Conn
	screen        *xproto.ScreenInfo
	displayWindow xproto.Window
	gc            xproto.Gcontext
	width         int
	height        int
	running       bool
	mu            sync.RWMutex

	geometry output.Geometry
	canvas   *image.RGBA
	format   pixmapFormat
}

// NewManager creates a preview window manager. The X server connection is
// made on Start so a manager can be built without a display.
func NewManager(cfg config.PreviewConfig) *Manager {
	width, height := cfg.WindowWidth, cfg.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	return &Manager{
		width:  width,
		height: height,
	}
}

// Start connects to the X server and maps the preview window
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("display already running")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	m.conn = conn
	m.screen = xproto.Setup(conn).DefaultScreen(conn)

	format, err := findPixmapFormat(xproto.Setup(conn), m.screen.RootDepth)
	if err != nil {
		conn.Close()
		return err
	}
	m.format = format

	if err := m.createWindow(); err != nil {
		conn.Close()
		return err
	}

	m.canvas = image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	m.running = true
	logger.WithComponent("display").Info().
		Int("width", m.width).
		Int("height", m.height).
		Uint32("window_id", uint32(m.displayWindow)).
		Msg("Preview window created")
	return nil
}

func (m *Manager) createWindow() error {
	windowID, err := xproto.NewWindowId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	m.displayWindow = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		m.conn,
		m.screen.RootDepth,
		m.displayWindow,
		m.screen.Root,
		0, 0,
		uint16(m.width), uint16(m.height),
		0,
		xproto.WindowClassInputOutput,
		m.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := m.setWindowTitle("ScanStreamer - Preview"); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window title")
	}
	if err := m.setWindowClass("scanstreamer", "ScanStreamer"); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(m.conn, m.displayWindow).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	m.gc = gc
	err = xproto.CreateGCChecked(
		m.conn,
		m.gc,
		xproto.Drawable(m.displayWindow),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffffff, 0x00000000},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}

	m.conn.Sync()
	return nil
}

// Stop destroys the preview window and closes the X connection
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.gc != 0 {
		xproto.FreeGC(m.conn, m.gc)
	}
	if m.displayWindow != 0 {
		xproto.DestroyWindow(m.conn, m.displayWindow)
		m.conn.Sync()
	}
	m.conn.Close()
	m.conn = nil
	m.gc = 0
	m.displayWindow = 0

	m.running = false
	logger.WithComponent("display").Info().Msg("Preview window closed")
	return nil
}

// Name returns the output type name
func (m *Manager) Name() string {
	return "X11 Preview Window"
}

// IsRunning returns whether the window is currently shown
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Bind records the negotiated preview and retitles the window with it
func (m *Manager) Bind(geometry output.Geometry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("display not running")
	}
	if geometry.Width <= 0 || geometry.Height <= 0 {
		return fmt.Errorf("invalid preview size %dx%d", geometry.Width, geometry.Height)
	}
	m.geometry = geometry

	w, h := geometry.Upright()
	title := fmt.Sprintf("ScanStreamer - %s camera %dx%d", geometry.Facing, w, h)
	if err := m.setWindowTitle(title); err != nil {
		logger.WithComponent("display").Warn().Err(err).Msg("Failed to set window title")
	}
	return nil
}

// WriteFrame letterboxes a preview frame into the window
func (m *Manager) WriteFrame(frame *image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("display not running")
	}

	letterbox(m.canvas, frame)
	data, err := packPixels(m.canvas, m.format, m.screen.RootDepth)
	if err != nil {
		return err
	}

	err = xproto.PutImageChecked(
		m.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(m.displayWindow),
		m.gc,
		uint16(m.width),
		uint16(m.height),
		0, 0,
		0,
		m.screen.RootDepth,
		data,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to put image: %w", err)
	}
	return nil
}

// setWindowTitle sets the window title
func (m *Manager) setWindowTitle(title string) error {
	titleAtom, err := m.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := m.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

// setWindowClass sets WM_CLASS as instance\0class\0
func (m *Manager) setWindowClass(instance, class string) error {
	classAtom, err := m.getAtom("WM_CLASS")
	if err != nil {
		return err
	}
	classStr := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (m *Manager) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

// GetWindowID returns the preview window ID
func (m *Manager) GetWindowID() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(m.displayWindow)
}
