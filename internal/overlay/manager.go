package overlay

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/bryanchriswhite/ScanStreamer/internal/logger"
	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// Manager is the graphic overlay drawn on top of the camera preview. It
// keeps one graphic per tracked barcode plus HUD widgets, and maps
// preview coordinates into the view the preview is displayed in.
//
// Manager implements vision.Listener.
type Manager struct {
	mu      sync.RWMutex
	enabled bool
	stroke  int

	widgets  map[string]Widget
	graphics map[int]*BarcodeGraphic
	colors   colorSequence

	previewWidth  int
	previewHeight int
	front         bool
	viewWidth     int
	viewHeight    int
}

// NewManager creates a new overlay manager
func NewManager(strokeWidth int) *Manager {
	if strokeWidth <= 0 {
		strokeWidth = 4
	}
	return &Manager{
		enabled:  true,
		stroke:   strokeWidth,
		widgets:  make(map[string]Widget),
		graphics: make(map[int]*BarcodeGraphic),
	}
}

// SetCameraInfo sets the upright preview size and whether the preview is
// mirrored (front camera)
func (m *Manager) SetCameraInfo(previewWidth, previewHeight int, front bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previewWidth = previewWidth
	m.previewHeight = previewHeight
	m.front = front
	if m.viewWidth == 0 || m.viewHeight == 0 {
		m.viewWidth, m.viewHeight = previewWidth, previewHeight
	}
}

// SetViewSize sets the size of the view the preview is displayed in
func (m *Manager) SetViewSize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewWidth = width
	m.viewHeight = height
}

func (m *Manager) widthScaleFactor() float64 {
	if m.previewWidth == 0 {
		return 1
	}
	return float64(m.viewWidth) / float64(m.previewWidth)
}

func (m *Manager) heightScaleFactor() float64 {
	if m.previewHeight == 0 {
		return 1
	}
	return float64(m.viewHeight) / float64(m.previewHeight)
}

// TranslateX maps a preview x coordinate to the view, mirroring for the
// front camera
func (m *Manager) TranslateX(x int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.translateX(float64(x))
}

func (m *Manager) translateX(x float64) int {
	scaled := x * m.widthScaleFactor()
	if m.front {
		return int(float64(m.viewWidth) - scaled)
	}
	return int(scaled)
}

// TranslateY maps a preview y coordinate to the view
func (m *Manager) TranslateY(y int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(float64(y) * m.heightScaleFactor())
}

// viewRect maps a preview rectangle to the view
func (m *Manager) viewRect(r image.Rectangle) image.Rectangle {
	return image.Rect(
		m.translateX(float64(r.Min.X)), int(float64(r.Min.Y)*m.heightScaleFactor()),
		m.translateX(float64(r.Max.X)), int(float64(r.Max.Y)*m.heightScaleFactor()),
	).Canon()
}

// OnDetectionAppeared adds a graphic for a new barcode
func (m *Manager) OnDetectionAppeared(id int, d vision.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphics[id] = &BarcodeGraphic{id: id, detection: d, color: m.colors.take()}
}

// OnDetectionUpdated moves a graphic and shows it again if it was hidden
func (m *Manager) OnDetectionUpdated(id int, d vision.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.graphics[id]
	if !ok {
		g = &BarcodeGraphic{id: id, color: m.colors.take()}
		m.graphics[id] = g
	}
	g.detection = d
	g.hidden = false
}

// OnDetectionMissing hides a graphic while its barcode is out of view
func (m *Manager) OnDetectionMissing(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.graphics[id]; ok {
		g.hidden = true
	}
}

// OnDetectionLost removes a graphic
func (m *Manager) OnDetectionLost(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.graphics, id)
}

// Graphics returns copies of the visible graphics ordered by tracking id
func (m *Manager) Graphics() []BarcodeGraphic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	visible := m.visibleLocked()
	out := make([]BarcodeGraphic, len(visible))
	for i, g := range visible {
		out[i] = *g
	}
	return out
}

func (m *Manager) visibleLocked() []*BarcodeGraphic {
	out := make([]*BarcodeGraphic, 0, len(m.graphics))
	for _, g := range m.graphics {
		if !g.hidden {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Detections returns the visible detections ordered by tracking id
func (m *Manager) Detections() []vision.Detection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	graphics := m.visibleLocked()
	out := make([]vision.Detection, len(graphics))
	for i, g := range graphics {
		out[i] = g.detection
	}
	return out
}

// Select returns the barcode under a tap at view coordinates. A box that
// contains the point wins; otherwise the barcode whose centre is nearest.
func (m *Manager) Select(viewX, viewY int) (vision.Detection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best         *BarcodeGraphic
		bestDistance = -1
	)
	p := image.Pt(viewX, viewY)
	for _, g := range m.visibleLocked() {
		box := m.viewRect(g.detection.Bounds)
		if p.In(box) {
			best = g
			break
		}
		dx := viewX - (box.Min.X+box.Max.X)/2
		dy := viewY - (box.Min.Y+box.Max.Y)/2
		distance := dx*dx + dy*dy
		if bestDistance < 0 || distance < bestDistance {
			best = g
			bestDistance = distance
		}
	}

	if best == nil {
		return vision.Detection{}, false
	}
	return best.detection, true
}

// ClearGraphics removes all barcode graphics
func (m *Manager) ClearGraphics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphics = make(map[int]*BarcodeGraphic)
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.widgets[widget.ID()]; exists {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}

	m.widgets[widget.ID()] = widget
	logger.WithComponent("overlay").Debug().
		Str("widget", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.widgets[id]; !exists {
		return fmt.Errorf("widget with ID %s not found", id)
	}
	delete(m.widgets, id)
	return nil
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	widget, exists := m.widgets[id]
	return widget, exists
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	logger.WithComponent("overlay").Info().Bool("enabled", enabled).Msg("Overlay toggled")
}

// IsEnabled returns whether the overlay is enabled
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Render draws barcode graphics and widgets onto img, which is taken to
// be the view
func (m *Manager) Render(img *image.RGBA) error {
	m.mu.Lock()
	m.viewWidth, m.viewHeight = img.Bounds().Dx(), img.Bounds().Dy()
	if !m.enabled {
		m.mu.Unlock()
		return nil
	}

	// graphics are copied so drawing can happen unlocked
	type placed struct {
		g   BarcodeGraphic
		box image.Rectangle
	}
	var graphics []placed
	for _, g := range m.visibleLocked() {
		graphics = append(graphics, placed{*g, m.viewRect(g.detection.Bounds)})
	}
	widgets := make([]Widget, 0, len(m.widgets))
	for _, w := range m.widgets {
		widgets = append(widgets, w)
	}
	stroke := m.stroke
	m.mu.Unlock()

	for _, p := range graphics {
		p.g.draw(img, p.box, stroke)
	}

	sort.Slice(widgets, func(i, j int) bool { return widgets[i].ID() < widgets[j].ID() })
	for _, widget := range widgets {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img); err != nil {
			logger.WithComponent("overlay").Warn().
				Err(err).
				Str("widget", widget.ID()).
				Msg("Failed to render widget")
		}
	}
	return nil
}

// CreateWidget creates a new widget instance from configuration.
// status is the text source for "status" widgets and may be nil.
func (m *Manager) CreateWidget(widgetType, id string, config map[string]interface{}, status TextFunc) (Widget, error) {
	var widget Widget
	var err error

	switch widgetType {
	case "text":
		widget, err = NewTextWidget(id, config)
	case "status":
		widget, err = NewStatusWidget(id, status, config)
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
	}
	return widget, nil
}

// LoadFromConfig creates widgets from their configs, skipping bad entries
func (m *Manager) LoadFromConfig(configs []map[string]interface{}, status TextFunc) error {
	log := logger.WithComponent("overlay")
	for _, config := range configs {
		widgetType, ok := config["type"].(string)
		if !ok {
			log.Warn().Msg("Skipping widget with missing type")
			continue
		}

		id, ok := config["id"].(string)
		if !ok {
			log.Warn().Str("type", widgetType).Msg("Skipping widget with missing ID")
			continue
		}

		widget, err := m.CreateWidget(widgetType, id, config, status)
		if err != nil {
			log.Warn().Err(err).Str("widget", id).Msg("Failed to create widget")
			continue
		}

		if err := m.AddWidget(widget); err != nil {
			log.Warn().Err(err).Str("widget", id).Msg("Failed to add widget")
		}
	}
	return nil
}

// ExportConfig exports all widget configurations
func (m *Manager) ExportConfig() []map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make([]map[string]interface{}, 0, len(m.widgets))
	for _, widget := range m.widgets {
		configs = append(configs, widget.GetConfig())
	}
	return configs
}
