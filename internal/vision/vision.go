// Package vision defines the camera capture and fiducial detection
// capabilities consumed by calibration, plus the backends that provide them.
package vision

import (
	"context"
	"errors"
	"image"
	"sort"
	"time"
)

var (
	// ErrBackendUnavailable is returned when a backend was not compiled in
	ErrBackendUnavailable = errors.New("vision backend unavailable")
	// ErrFrameUnreadable marks a transient capture failure; callers retry
	ErrFrameUnreadable = errors.New("frame unreadable")
	// ErrDeviceClosed is returned by Capture after Close
	ErrDeviceClosed = errors.New("capture device closed")
)

// Point is a position in frame pixel coordinates (origin top-left, y down).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad holds the four corners of one detected marker in detector order,
// typically clockwise from top-left.
type Quad [4]Point

// Detection is the result of one capture+detect cycle.
type Detection struct {
	Seq      int
	Captured time.Time
	Markers  map[int]Quad
}

// IDs returns the detected marker IDs in ascending order
func (d Detection) IDs() []int {
	ids := make([]int, 0, len(d.Markers))
	for id := range d.Markers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Frame is one grayscale camera image
type Frame struct {
	Seq      int
	Captured time.Time
	Image    image.Image
}

// Camera opens an exclusive frame source
type Camera interface {
	Open(ctx context.Context) (FrameSource, error)
}

// FrameSource yields frames until closed
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Detector finds fiducial markers in a frame
type Detector interface {
	Detect(frame Frame) (map[int]Quad, error)
}

// Device is the capability calibration consumes: open once, then capture
// detections until closed. Only one Capturer may be open per Device.
type Device interface {
	Open(ctx context.Context) (Capturer, error)
}

// Capturer yields one Detection per call
type Capturer interface {
	Capture(ctx context.Context) (Detection, error)
	Close() error
}
