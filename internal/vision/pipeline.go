package vision

import (
	"context"
	"fmt"
)

// Pipeline combines a Camera and a Detector into a Device.
type Pipeline struct {
	Camera   Camera
	Detector Detector
}

// Open opens the camera
func (p *Pipeline) Open(ctx context.Context) (Capturer, error) {
	src, err := p.Camera.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}
	return &pipelineCapturer{src: src, detector: p.Detector}, nil
}

type pipelineCapturer struct {
	src      FrameSource
	detector Detector
}

func (c *pipelineCapturer) Capture(ctx context.Context) (Detection, error) {
	frame, err := c.src.Read(ctx)
	if err != nil {
		return Detection{}, err
	}

	markers, err := c.detector.Detect(frame)
	if err != nil {
		return Detection{}, fmt.Errorf("%w: detect: %v", ErrFrameUnreadable, err)
	}

	return Detection{Seq: frame.Seq, Captured: frame.Captured, Markers: markers}, nil
}

func (c *pipelineCapturer) Close() error {
	return c.src.Close()
}
