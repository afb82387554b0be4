//go:build !linux

package camera

import (
	"errors"
)

var errV4L2Unsupported = errors.New("v4l2 cameras are only supported on linux")

// V4L2Driver is unavailable on this platform
type V4L2Driver struct {
	devices []DeviceInfo
}

// NewV4L2Driver creates a driver that reports no usable devices
func NewV4L2Driver(devices []DeviceInfo) *V4L2Driver {
	return &V4L2Driver{devices: devices}
}

// Devices implements Driver
func (d *V4L2Driver) Devices() ([]DeviceInfo, error) {
	return nil, errV4L2Unsupported
}

// Open implements Driver
func (d *V4L2Driver) Open(id string) (Device, error) {
	return nil, errV4L2Unsupported
}
