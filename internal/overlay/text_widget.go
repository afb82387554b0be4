package overlay

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// labelFace is the face used for all overlay text
var labelFace = basicfont.Face7x13

// TextFunc produces the text of a live widget on each render
type TextFunc func() string

// TextWidget displays a line of text on the preview. Its text is either
// static or produced by a TextFunc, e.g. the scanner status line.
type TextWidget struct {
	*BaseWidget
	widgetType string
	text       string
	source     TextFunc
	textColor  color.RGBA
	bgColor    *color.RGBA // optional background
	padding    int
}

// NewTextWidget creates a static text widget from its config
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		widgetType: "text",
		textColor:  color.RGBA{255, 255, 255, 255},
		bgColor:    &color.RGBA{0, 0, 0, 160},
		padding:    5,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	if w.text == "" {
		return nil, fmt.Errorf("text widget requires non-empty text")
	}
	return w, nil
}

// NewStatusWidget creates a text widget whose text comes from source
func NewStatusWidget(id string, source TextFunc, config map[string]interface{}) (*TextWidget, error) {
	if source == nil {
		return nil, fmt.Errorf("status widget requires a text source")
	}
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		widgetType: "status",
		source:     source,
		textColor:  color.RGBA{255, 255, 255, 255},
		bgColor:    &color.RGBA{0, 0, 0, 160},
		padding:    5,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return w.widgetType
}

// Text returns the text the widget would render now
func (w *TextWidget) Text() string {
	if w.source != nil {
		return w.source()
	}
	return w.text
}

// Render draws the text with its padded background box
func (w *TextWidget) Render(img *image.RGBA) error {
	text := w.Text()
	if !w.IsEnabled() || text == "" {
		return nil
	}

	textW := font.MeasureString(labelFace, text).Ceil()
	lineH := labelFace.Metrics().Height.Ceil()
	box := image.Rect(w.x, w.y, w.x+textW+2*w.padding, w.y+lineH+2*w.padding)

	if w.bgColor != nil {
		FillRect(img, box, *w.bgColor, w.opacity*float64(w.bgColor.A)/255)
	}

	// draw into a scratch image so opacity applies to the glyphs too
	textImg := image.NewRGBA(image.Rect(0, 0, textW, lineH))
	d := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(w.textColor),
		Face: labelFace,
		Dot:  fixed.P(0, labelFace.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
	BlendImage(img, textImg, w.x+w.padding, w.y+w.padding, w.opacity)
	return nil
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	if w.source == nil {
		config["text"] = w.text
	}
	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}
	return config
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	w.updateBase(config)

	if text, ok := config["text"].(string); ok && w.source == nil {
		w.text = text
	}
	if v, ok := config["padding"]; ok {
		w.padding = getInt(v)
	}
	if m, ok := config["color"].(map[string]interface{}); ok {
		w.textColor = parseColor(m)
	}
	if m, ok := config["background"].(map[string]interface{}); ok {
		c := parseColor(m)
		w.bgColor = &c
	} else if none, ok := config["background"].(bool); ok && !none {
		w.bgColor = nil
	}
	return nil
}

// SetText updates the static text
func (w *TextWidget) SetText(text string) {
	w.text = text
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": c.R, "g": c.G, "b": c.B, "a": c.A}
}

func parseColor(m map[string]interface{}) color.RGBA {
	c := color.RGBA{
		R: uint8(getInt(m["r"])),
		G: uint8(getInt(m["g"])),
		B: uint8(getInt(m["b"])),
		A: 255,
	}
	if a, ok := m["a"]; ok {
		c.A = uint8(getInt(a))
	}
	return c
}
