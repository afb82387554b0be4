// Package camera drives a camera device and feeds its preview frames to a
// detector, always delivering the most recent frame and dropping the rest.
package camera

import (
	"fmt"

	"github.com/bryanchriswhite/ScanStreamer/internal/vision"
)

// Facing selects which side of the device the camera points to
type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// ParseFacing validates a facing name
func ParseFacing(s string) (Facing, error) {
	switch Facing(s) {
	case FacingBack, FacingFront:
		return Facing(s), nil
	default:
		return "", fmt.Errorf("%w: invalid camera facing %q", ErrInvalidConfig, s)
	}
}

// Size is a width and height in pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// FPSRange is a frame rate range scaled by 1000
type FPSRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Parameters are the capabilities and current settings of a device
type Parameters struct {
	// capabilities
	PreviewSizes   []Size
	PictureSizes   []Size
	FPSRanges      []FPSRange
	PreviewFormats []vision.PixelFormat
	FocusModes     []string
	FlashModes     []string
	ZoomSupported  bool
	MaxZoom        int

	// settings
	PreviewSize   Size
	PictureSize   Size // zero when the device has no matching picture size
	FPS           FPSRange
	PreviewFormat vision.PixelFormat
	FocusMode     string
	FlashMode     string
	Zoom          int
	Rotation      int // degrees applied to captured pictures
}

// DeviceInfo describes a camera a Driver can open
type DeviceInfo struct {
	ID          string `json:"id"`
	Facing      Facing `json:"facing"`
	Orientation int    `json:"orientation"` // sensor mounting, degrees clockwise
}

// PreviewCallback receives a filled callback buffer. It must return quickly.
type PreviewCallback func(data []byte)

// Driver enumerates and opens camera devices
type Driver interface {
	Devices() ([]DeviceInfo, error)
	Open(id string) (Device, error)
}

// Device is an opened camera.
//
// Preview frames are delivered into buffers registered with
// AddCallbackBuffer. Each filled buffer is passed to the preview callback
// once and is not reused until it is added again. When no buffer is
// registered the device drops the frame. AddCallbackBuffer must not block
// and may be called from inside the callback.
type Device interface {
	Parameters() (Parameters, error)
	SetParameters(p Parameters) error
	SetDisplayOrientation(degrees int) error
	SetPreviewCallback(cb PreviewCallback)
	AddCallbackBuffer(buf []byte)
	StartPreview() error
	StopPreview() error
	Release() error
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
