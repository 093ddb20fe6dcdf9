package calibration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/tilewall/internal/consts"
	"github.com/codefionn/tilewall/internal/logger"
	"github.com/codefionn/tilewall/internal/vision"
)

// Options bounds a calibration run
type Options struct {
	// Timeout is the hard wall-clock ceiling of a run
	Timeout time.Duration
	// MaxFrames caps the number of detections consumed. Zero is unbounded.
	MaxFrames int
	// FrameInterval is the pause between captures
	FrameInterval time.Duration
	// MaxConsecutiveFailures ends a run after that many capture errors in a row
	MaxConsecutiveFailures int
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		Timeout:                consts.Timeout2Minutes,
		FrameInterval:          33 * time.Millisecond,
		MaxConsecutiveFailures: 30,
	}
}

// Engine runs calibrations against a single capture device. At most one
// run per session, and at most one run system-wide, may hold the device.
type Engine struct {
	device vision.Device
	opts   Options
	log    *logger.Logger

	mu     sync.Mutex
	runs   map[string]*Run
	holder string
	wg     sync.WaitGroup
}

// NewEngine creates an engine for device
func NewEngine(device vision.Device, opts Options, log *logger.Logger) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultOptions().MaxConsecutiveFailures
	}
	if log == nil {
		log = logger.Global().WithPrefix("calibration")
	}
	return &Engine{
		device: device,
		opts:   opts,
		log:    log,
		runs:   make(map[string]*Run),
	}
}

// Run is one calibration attempt
type Run struct {
	SessionID string
	Expected  []int
	StartedAt time.Time

	cancel context.CancelCauseFunc
	force  atomic.Bool
	done   chan struct{}

	mu     sync.Mutex
	state  State
	result *Result
	err    error
}

// State returns the current state
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Done is closed when the run has finished
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its outcome
func (r *Run) Wait() (*Result, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Start begins calibrating sessionID against the given marker IDs. The set
// is copied, so later membership changes do not affect the run. ctx bounds
// the whole run.
func (e *Engine) Start(ctx context.Context, sessionID string, expected []int, obs Observer) (*Run, error) {
	if len(expected) == 0 {
		return nil, fmt.Errorf("%w: session %s has no markers to find", ErrCancelled, sessionID)
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}

	want := append([]int(nil), expected...)
	sort.Ints(want)

	e.mu.Lock()
	if _, running := e.runs[sessionID]; running {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s", ErrCalibrationInProgress, sessionID)
	}
	if e.holder != "" {
		holder := e.holder
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: held by session %s", ErrDeviceBusy, holder)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	runCtx, cancelTimeout := context.WithTimeoutCause(runCtx, e.opts.Timeout, ErrTimedOut)
	run := &Run{
		SessionID: sessionID,
		Expected:  want,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateCapturing,
	}
	e.runs[sessionID] = run
	e.holder = sessionID
	e.wg.Add(1)
	e.mu.Unlock()

	e.log.Info("Calibration started for session %s, expecting markers %v", sessionID, want)
	if s, ok := obs.(Starter); ok {
		s.Started(run)
	}

	go func() {
		defer e.wg.Done()
		defer cancelTimeout()
		result, err := e.work(runCtx, run, obs)
		e.finish(run, obs, result, err)
	}()

	return run, nil
}

// Cancel stops the session's run. The worker notices at the next frame.
func (e *Engine) Cancel(sessionID, reason string) error {
	e.mu.Lock()
	run, ok := e.runs[sessionID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: session %s", ErrNoRun, sessionID)
	}
	if reason == "" {
		reason = "cancelled"
	}
	run.cancel(fmt.Errorf("%w: %s", ErrCancelled, reason))
	return nil
}

// Force makes the run accept the next frame containing at least one marker
func (e *Engine) Force(sessionID string) error {
	e.mu.Lock()
	run, ok := e.runs[sessionID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: session %s", ErrNoRun, sessionID)
	}
	run.force.Store(true)
	return nil
}

// Active returns the session's run, if any
func (e *Engine) Active(sessionID string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[sessionID]
	return run, ok
}

// Current returns the run holding the device, if any
func (e *Engine) Current() (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.holder == "" {
		return nil, false
	}
	return e.runs[e.holder], true
}

// Close cancels every run and waits for the workers to exit
func (e *Engine) Close() {
	e.mu.Lock()
	for _, run := range e.runs {
		run.cancel(fmt.Errorf("%w: shutting down", ErrCancelled))
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) work(ctx context.Context, run *Run, obs Observer) (*Result, error) {
	capturer, err := e.device.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open device: %v", ErrDetectorFailure, err)
	}
	defer func() {
		if err := capturer.Close(); err != nil {
			e.log.Warn("Failed to close capture device: %v", err)
		}
	}()

	frames, failures := 0, 0
	for {
		if err := stopCause(ctx); err != nil {
			return nil, err
		}
		if e.opts.MaxFrames > 0 && frames >= e.opts.MaxFrames {
			return nil, fmt.Errorf("%w: no match in %d frames", ErrTimedOut, frames)
		}

		detection, err := capturer.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			e.log.Debug("Capture failed for session %s (%d in a row): %v", run.SessionID, failures, err)
			if failures >= e.opts.MaxConsecutiveFailures {
				return nil, fmt.Errorf("%w: %d consecutive capture errors, last: %v", ErrDetectorFailure, failures, err)
			}
			e.pause(ctx)
			continue
		}
		failures = 0
		frames++

		detected := detection.IDs()
		forced := run.force.Load() && len(detected) > 0
		if forced || sameIDs(detected, run.Expected) {
			layout, aspect, err := ComputeLayout(detection.Markers)
			if err != nil {
				return nil, err
			}
			return &Result{
				SessionID:   run.SessionID,
				Layout:      layout,
				AspectRatio: aspect,
				Frames:      frames,
				Forced:      forced,
				CompletedAt: time.Now(),
			}, nil
		}

		run.setState(StateMismatched)
		obs.Progress(Progress{
			SessionID: run.SessionID,
			Detected:  detected,
			Expected:  run.Expected,
			Frame:     frames,
		})
		e.pause(ctx)
		run.setState(StateCapturing)
	}
}

func (e *Engine) finish(run *Run, obs Observer, result *Result, err error) {
	e.mu.Lock()
	delete(e.runs, run.SessionID)
	if e.holder == run.SessionID {
		e.holder = ""
	}
	e.mu.Unlock()

	state := StateSucceeded
	switch {
	case err == nil:
		e.log.Info("Calibration of session %s succeeded after %d frames (aspect %.3f, forced=%v)",
			run.SessionID, result.Frames, result.AspectRatio, result.Forced)
	case errors.Is(err, ErrCancelled):
		state = StateCancelled
		e.log.Info("Calibration of session %s cancelled: %v", run.SessionID, err)
	case errors.Is(err, ErrTimedOut):
		state = StateTimedOut
		e.log.Warn("Calibration of session %s timed out: %v", run.SessionID, err)
	default:
		state = StateFailed
		e.log.Error("Calibration of session %s failed: %v", run.SessionID, err)
	}

	run.mu.Lock()
	run.state = state
	run.result = result
	run.err = err
	run.mu.Unlock()

	obs.Finished(run.SessionID, result, err)
	close(run.done)
}

func (e *Engine) pause(ctx context.Context) {
	if e.opts.FrameInterval <= 0 {
		return
	}
	timer := time.NewTimer(e.opts.FrameInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// stopCause maps a finished context onto the run's terminal error
func stopCause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrTimedOut), errors.Is(cause, ErrCancelled):
		return cause
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimedOut, cause)
	default:
		return fmt.Errorf("%w: %v", ErrCancelled, cause)
	}
}

func sameIDs(detected, expected []int) bool {
	if len(detected) != len(expected) {
		return false
	}
	for i := range detected {
		if detected[i] != expected[i] {
			return false
		}
	}
	return true
}
