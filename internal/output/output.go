package output

import (
	"image"
)

// Output defines the interface for preview frame sinks:
// - MJPEG HTTP stream
// - X11 preview window
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a rendered preview frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Geometry describes the negotiated camera preview a surface displays
type Geometry struct {
	Width        int     `json:"width"`  // preview width in sensor orientation
	Height       int     `json:"height"` // preview height in sensor orientation
	Rotation     int     `json:"rotation"`
	DisplayAngle int     `json:"display_angle"`
	Facing       string  `json:"facing"`
	FPS          float64 `json:"fps"`
}

// Upright returns the preview size after rotation is applied
func (g Geometry) Upright() (int, int) {
	if g.Rotation%2 != 0 {
		return g.Height, g.Width
	}
	return g.Width, g.Height
}

// PreviewSurface is the destination a camera source binds its preview to
// before streaming starts. A bind error aborts the start.
type PreviewSurface interface {
	Bind(geometry Geometry) error
}

// Surfaces binds several surfaces as one, failing on the first error
type Surfaces []PreviewSurface

// Bind binds every surface in order
func (s Surfaces) Bind(geometry Geometry) error {
	for _, surface := range s {
		if err := surface.Bind(geometry); err != nil {
			return err
		}
	}
	return nil
}
