//go:build !gocv

package vision

import (
	"context"
	"fmt"
)

// NewOpenCVDevice returns a camera device whose Open always fails because
// the OpenCV backend was not compiled in. The server still starts; every
// calibration run fails with a detector failure. Build with -tags gocv to
// enable camera capture.
func NewOpenCVDevice(device int) (Device, error) {
	return unavailableDevice{device: device}, nil
}

type unavailableDevice struct {
	device int
}

func (d unavailableDevice) Open(context.Context) (Capturer, error) {
	return nil, fmt.Errorf("%w: opencv camera %d (build with -tags gocv)", ErrBackendUnavailable, d.device)
}
