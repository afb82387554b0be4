package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// graphicColors is cycled through as barcode graphics are created
var graphicColors = []color.RGBA{
	{0, 0, 255, 255},   // blue
	{0, 255, 255, 255}, // cyan
	{0, 255, 0, 255},   // green
}

// colorSequence hands out graphic colours in turn
type colorSequence struct {
	next int
}

func (s *colorSequence) take() color.RGBA {
	c := graphicColors[s.next]
	s.next = (s.next + 1) % len(graphicColors)
	return c
}

// BarcodeGraphic draws one tracked barcode: its box and decoded value
type BarcodeGraphic struct {
	id        int
	detection vision.Detection
	color     color.RGBA
	hidden    bool
}

// ID returns the tracking id
func (g *BarcodeGraphic) ID() int {
	return g.id
}

// Detection returns the most recent detection
func (g *BarcodeGraphic) Detection() vision.Detection {
	return g.detection
}

// Color returns the graphic's colour
func (g *BarcodeGraphic) Color() color.RGBA {
	return g.color
}

// draw renders the box already mapped to view coordinates
func (g *BarcodeGraphic) draw(img *image.RGBA, box image.Rectangle, stroke int) {
	StrokeRect(img, box, stroke, g.color)

	if g.detection.RawValue == "" {
		return
	}
	// label sits on the bottom-left corner of the box
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(g.color),
		Face: labelFace,
		Dot:  fixed.P(box.Min.X, box.Max.Y),
	}
	d.DrawString(g.detection.RawValue)
}
