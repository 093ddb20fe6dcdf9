// Package calibration locates wall clients by capturing their fiducial
// markers with a camera and normalizing the detected corners.
package calibration

import (
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/codefionn/tilewall/internal/vision"
)

var (
	// ErrCalibrationInProgress is returned when a session already has a run
	ErrCalibrationInProgress = errors.New("calibration already in progress")
	// ErrDeviceBusy is returned when another session holds the camera
	ErrDeviceBusy = errors.New("capture device busy")
	// ErrTimedOut ends a run that exceeded its time or frame budget
	ErrTimedOut = errors.New("calibration timed out")
	// ErrCancelled ends a run that was cancelled
	ErrCancelled = errors.New("calibration cancelled")
	// ErrDetectorFailure ends a run whose device could not deliver frames
	ErrDetectorFailure = errors.New("detector failure")
	// ErrDegenerateLayout is returned when markers span no area
	ErrDegenerateLayout = errors.New("degenerate layout")
	// ErrNoRun is returned when a session has no active run
	ErrNoRun = errors.New("no calibration running")
)

// State is the lifecycle state of a run
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateMismatched
	StateSucceeded
	StateCancelled
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateMismatched:
		return "mismatched"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run is over
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// Result is a finished calibration. Layout corners are normalized to [0,1].
type Result struct {
	SessionID   string              `json:"session_id" msgpack:"session_id"`
	Layout      map[int]vision.Quad `json:"layout" msgpack:"layout"`
	AspectRatio float64             `json:"aspect_ratio" msgpack:"aspect_ratio"`
	Frames      int                 `json:"frames" msgpack:"frames"`
	Forced      bool                `json:"forced" msgpack:"forced"`
	CompletedAt time.Time           `json:"completed_at" msgpack:"completed_at"`
}

// MarkerIDs returns the calibrated marker IDs in ascending order
func (r *Result) MarkerIDs() []int {
	ids := make([]int, 0, len(r.Layout))
	for id := range r.Layout {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// WireLayout converts the layout into string keyed [x, y] pairs
func (r *Result) WireLayout() map[string][4][2]float64 {
	out := make(map[string][4][2]float64, len(r.Layout))
	for id, quad := range r.Layout {
		var corners [4][2]float64
		for i, p := range quad {
			corners[i] = [2]float64{p.X, p.Y}
		}
		out[strconv.Itoa(id)] = corners
	}
	return out
}

// Progress describes a capture that did not match the expected set
type Progress struct {
	SessionID string
	Detected  []int
	Expected  []int
	Frame     int
}

// Observer receives run events on the engine's worker goroutine.
// Finished is called exactly once, after the camera was released.
type Observer interface {
	Progress(p Progress)
	Finished(sessionID string, result *Result, err error)
}

// Starter is an optional Observer extension. Started runs on the caller
// of Engine.Start once the run is reserved and before the worker captures
// its first frame, so it precedes every Progress and Finished call.
type Starter interface {
	Started(run *Run)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStarted  func(*Run)
	OnProgress func(Progress)
	OnFinished func(sessionID string, result *Result, err error)
}

func (o ObserverFuncs) Started(run *Run) {
	if o.OnStarted != nil {
		o.OnStarted(run)
	}
}

func (o ObserverFuncs) Progress(p Progress) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func (o ObserverFuncs) Finished(sessionID string, result *Result, err error) {
	if o.OnFinished != nil {
		o.OnFinished(sessionID, result, err)
	}
}

// Observers fans events out to several observers in order
type Observers []Observer

func (os Observers) Started(run *Run) {
	for _, o := range os {
		if s, ok := o.(Starter); ok {
			s.Started(run)
		}
	}
}

func (os Observers) Progress(p Progress) {
	for _, o := range os {
		o.Progress(p)
	}
}

func (os Observers) Finished(sessionID string, result *Result, err error) {
	for _, o := range os {
		o.Finished(sessionID, result, err)
	}
}
