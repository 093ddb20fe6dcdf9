package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// ReplayFrame is one scripted capture. A non-empty Err makes the capture
// fail with ErrFrameUnreadable.
type ReplayFrame struct {
	Markers map[int]Quad
	Err     string
}

// Replay is a Device that plays back scripted detections. Each Open starts
// from the first frame; once the script is exhausted the last frame repeats,
// like a camera looking at a static wall.
type Replay struct {
	mu     sync.Mutex
	frames []ReplayFrame
	open   bool
}

// NewReplay creates a replay device over frames
func NewReplay(frames []ReplayFrame) *Replay {
	return &Replay{frames: frames}
}

type replayFile struct {
	Frames []struct {
		Markers map[string][4][2]float64 `json:"markers"`
		Error   string                   `json:"error,omitempty"`
	} `json:"frames"`
}

// LoadReplay reads a replay script:
//
//	{"frames": [
//	  {"markers": {"0": [[0,0],[10,0],[10,10],[0,10]]}},
//	  {"error": "motion blur"}
//	]}
func LoadReplay(path string) (*Replay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", path, err)
	}

	var file replayFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse replay %s: %w", path, err)
	}
	if len(file.Frames) == 0 {
		return nil, fmt.Errorf("replay %s has no frames", path)
	}

	frames := make([]ReplayFrame, 0, len(file.Frames))
	for i, f := range file.Frames {
		rf := ReplayFrame{Err: f.Error, Markers: make(map[int]Quad, len(f.Markers))}
		for key, corners := range f.Markers {
			id, err := strconv.Atoi(key)
			if err != nil || id < 0 {
				return nil, fmt.Errorf("replay %s frame %d: invalid marker id %q", path, i, key)
			}
			var q Quad
			for c := range corners {
				q[c] = Point{X: corners[c][0], Y: corners[c][1]}
			}
			rf.Markers[id] = q
		}
		frames = append(frames, rf)
	}

	return NewReplay(frames), nil
}

// Open starts playback from the first frame
func (r *Replay) Open(ctx context.Context) (Capturer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open {
		return nil, errors.New("replay device already open")
	}
	if len(r.frames) == 0 {
		return nil, errors.New("replay device has no frames")
	}
	r.open = true
	return &replayCapturer{device: r}, nil
}

type replayCapturer struct {
	device *Replay
	next   int
	closed bool
}

func (c *replayCapturer) Capture(ctx context.Context) (Detection, error) {
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}
	if c.closed {
		return Detection{}, ErrDeviceClosed
	}

	frames := c.device.frames
	idx := c.next
	if idx >= len(frames) {
		idx = len(frames) - 1
	}
	c.next++

	f := frames[idx]
	if f.Err != "" {
		return Detection{}, fmt.Errorf("%w: %s", ErrFrameUnreadable, f.Err)
	}

	markers := make(map[int]Quad, len(f.Markers))
	for id, q := range f.Markers {
		markers[id] = q
	}
	return Detection{Seq: c.next, Captured: time.Now(), Markers: markers}, nil
}

func (c *replayCapturer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.device.mu.Lock()
	c.device.open = false
	c.device.mu.Unlock()
	return nil
}
