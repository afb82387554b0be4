package camera

import (
	"fmt"

	"github.com/bryanchriswhite/ScanStreamer/internal/config"
)

// NewDriver creates the driver named in the camera settings
func NewDriver(cam config.CameraConfig) (Driver, error) {
	switch cam.Driver {
	case config.DriverSimulated:
		return NewSimulatedDriver(cam.SimulateText), nil
	case config.DriverV4L2, "":
		devices := make([]DeviceInfo, 0, len(cam.Devices))
		for _, d := range cam.Devices {
			facing, err := ParseFacing(d.Facing)
			if err != nil {
				return nil, err
			}
			devices = append(devices, DeviceInfo{ID: d.Path, Facing: facing, Orientation: d.Orientation})
		}
		return NewV4L2Driver(devices), nil
	default:
		return nil, fmt.Errorf("%w: unknown camera driver %q", ErrInvalidConfig, cam.Driver)
	}
}
