//go:build gocv

package vision

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// NewOpenCVDevice returns a Pipeline reading from a local camera and
// detecting DICT_6X6_250 ArUco markers.
func NewOpenCVDevice(device int) (Device, error) {
	return &Pipeline{
		Camera:   &OpenCVCamera{Device: device},
		Detector: NewArucoDetector(),
	}, nil
}

// OpenCVCamera captures grayscale frames from a video device
type OpenCVCamera struct {
	Device int
}

// Open opens the video device
func (c *OpenCVCamera) Open(ctx context.Context) (FrameSource, error) {
	capture, err := gocv.OpenVideoCapture(c.Device)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", c.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("video device %d did not open", c.Device)
	}
	return &openCVSource{capture: capture, frame: gocv.NewMat(), gray: gocv.NewMat()}, nil
}

type openCVSource struct {
	capture *gocv.VideoCapture
	frame   gocv.Mat
	gray    gocv.Mat
	seq     int
}

func (s *openCVSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if ok := s.capture.Read(&s.frame); !ok || s.frame.Empty() {
		return Frame{}, fmt.Errorf("%w: empty read", ErrFrameUnreadable)
	}

	gocv.CvtColor(s.frame, &s.gray, gocv.ColorBGRToGray)
	img, err := s.gray.ToImage()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrFrameUnreadable, err)
	}

	s.seq++
	return Frame{Seq: s.seq, Captured: time.Now(), Image: img}, nil
}

func (s *openCVSource) Close() error {
	s.gray.Close()
	s.frame.Close()
	return s.capture.Close()
}

// ArucoDetector detects DICT_6X6_250 markers with OpenCV
type ArucoDetector struct {
	mu       sync.Mutex
	detector gocv.ArucoDetector
}

// NewArucoDetector creates a detector with default parameters
func NewArucoDetector() *ArucoDetector {
	dict := gocv.GetPredefinedDictionary(gocv.ArucoDict6x6_250)
	params := gocv.NewArucoDetectorParameters()
	return &ArucoDetector{detector: gocv.NewArucoDetectorWithParams(dict, params)}
}

// Detect returns the corners of every marker in the frame
func (d *ArucoDetector) Detect(frame Frame) (map[int]Quad, error) {
	gray, ok := frame.Image.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("expected grayscale frame, got %T", frame.Image)
	}

	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	d.mu.Lock()
	corners, ids, _ := d.detector.DetectMarkers(mat)
	d.mu.Unlock()

	markers := make(map[int]Quad, len(ids))
	for i, id := range ids {
		if len(corners[i]) != 4 {
			continue
		}
		var q Quad
		for c, p := range corners[i] {
			q[c] = Point{X: float64(p.X), Y: float64(p.Y)}
		}
		markers[id] = q
	}
	return markers, nil
}
