package vision

import "image"

// Detection is a single decoded barcode in frame coordinates
type Detection struct {
	TrackingID int             `json:"tracking_id"`
	Bounds     image.Rectangle `json:"bounds"`
	RawValue   string          `json:"raw_value"`
	Format     string          `json:"format"`
}

// Center returns the midpoint of the bounding box
func (d Detection) Center() image.Point {
	return image.Pt((d.Bounds.Min.X+d.Bounds.Max.X)/2, (d.Bounds.Min.Y+d.Bounds.Max.Y)/2)
}

// Detector consumes preview frames synchronously.
// ReceiveFrame is only ever called from one goroutine at a time.
type Detector interface {
	ReceiveFrame(frame Frame) ([]Detection, error)
	Release()
}

// Listener receives tracking lifecycle events
type Listener interface {
	OnDetectionAppeared(id int, d Detection)
	OnDetectionUpdated(id int, d Detection)
	OnDetectionLost(id int)
}

// MissingListener is optionally implemented by a Listener that wants to
// hide a detection while it is temporarily out of view.
type MissingListener interface {
	OnDetectionMissing(id int)
}

// RotateRect maps a rectangle in a w x h sensor image into the coordinate
// space of the same image rotated clockwise by quarter turns.
func RotateRect(r image.Rectangle, w, h, quarterTurns int) image.Rectangle {
	switch ((quarterTurns % 4) + 4) % 4 {
	case 1:
		return image.Rect(h-r.Max.Y, r.Min.X, h-r.Min.Y, r.Max.X)
	case 2:
		return image.Rect(w-r.Max.X, h-r.Max.Y, w-r.Min.X, h-r.Min.Y)
	case 3:
		return image.Rect(r.Min.Y, w-r.Max.X, r.Max.Y, w-r.Min.X)
	default:
		return r
	}
}

// RotateRGBA returns src rotated clockwise by quarter turns.
// src is returned unchanged when no rotation is needed.
func RotateRGBA(src *image.RGBA, quarterTurns int) *image.RGBA {
	q := ((quarterTurns % 4) + 4) % 4
	if q == 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	if q == 2 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch q {
			case 1:
				dx, dy = h-1-y, x
			case 2:
				dx, dy = w-1-x, h-1-y
			case 3:
				dx, dy = y, w-1-x
			}
			so := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			do := dst.PixOffset(dx, dy)
			copy(dst.Pix[do:do+4], src.Pix[so:so+4])
		}
	}
	return dst
}
