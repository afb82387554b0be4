package camera

import "errors"

var (
	// ErrInvalidConfig is returned for a source config that can never work
	ErrInvalidConfig = errors.New("invalid camera config")

	// ErrDeviceNotFound is returned when no device has the requested facing
	ErrDeviceNotFound = errors.New("could not find requested camera")

	// ErrDeviceOpen wraps driver failures while opening or configuring a device
	ErrDeviceOpen = errors.New("failed to open camera")

	// ErrNoPreviewSize is returned when the device reports no preview sizes
	ErrNoPreviewSize = errors.New("could not find suitable preview size")

	// ErrNoFPSRange is returned when the device reports no frame rate ranges
	ErrNoFPSRange = errors.New("could not find suitable preview frames per second range")

	// ErrNoPixelFormat is returned when the device offers no supported preview format
	ErrNoPixelFormat = errors.New("no supported preview pixel format")

	// ErrSurfaceBind is returned when the preview surface rejects the geometry
	ErrSurfaceBind = errors.New("failed to bind preview surface")

	// ErrReleased is returned by a source after Release
	ErrReleased = errors.New("camera source released")

	// ErrBufferTooSmall is returned when a preview buffer cannot hold a frame
	ErrBufferTooSmall = errors.New("frame buffer smaller than required size")
)
