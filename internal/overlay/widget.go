package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// Widget represents a renderable HUD widget drawn over the preview
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto the provided image at the configured position
	Render(img *image.RGBA) error

	// GetConfig returns the widget's configuration as a map
	GetConfig() map[string]interface{}

	// UpdateConfig updates the widget's configuration
	UpdateConfig(config map[string]interface{}) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled = enabled
}

// SetOpacity sets the widget's opacity, clamped to [0, 1]
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.opacity = opacity
}

// baseConfig returns the fields every widget exports
func (w *BaseWidget) baseConfig(widgetType string) map[string]interface{} {
	return map[string]interface{}{
		"id":      w.id,
		"type":    widgetType,
		"enabled": w.enabled,
		"x":       w.x,
		"y":       w.y,
		"opacity": w.opacity,
	}
}

// updateBase applies the common fields of a widget config
func (w *BaseWidget) updateBase(config map[string]interface{}) {
	if v, ok := config["x"]; ok {
		w.x = getInt(v)
	}
	if v, ok := config["y"]; ok {
		w.y = getInt(v)
	}
	if opacity, ok := config["opacity"].(float64); ok {
		w.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		w.SetEnabled(enabled)
	}
}

// BlendImage draws src onto dst at (x, y) with the given opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	b := src.Bounds()
	r := image.Rect(x, y, x+b.Dx(), y+b.Dy())
	if opacity >= 1 {
		draw.Draw(dst, r, src, b.Min, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
	draw.DrawMask(dst, r, src, b.Min, mask, image.Point{}, draw.Over)
}

// FillRect fills r with c, blended with the given opacity
func FillRect(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	if opacity <= 0 {
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(clamp01(opacity) * 255)})
	draw.DrawMask(dst, r.Intersect(dst.Bounds()), &image.Uniform{C: c}, image.Point{}, mask, image.Point{}, draw.Over)
}

// StrokeRect draws the outline of r, width pixels thick, inside r
func StrokeRect(dst *image.RGBA, r image.Rectangle, width int, c color.Color) {
	if width <= 0 || r.Empty() {
		return
	}
	src := &image.Uniform{C: c}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r).Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// getInt extracts an integer value from an interface{} that might be int or float64
func getInt(v interface{}) int {
	switch val := v.(type) {
	case int:
		return val
	case float64:
		return int(val)
	case int64:
		return int(val)
	default:
		return 0
	}
}
