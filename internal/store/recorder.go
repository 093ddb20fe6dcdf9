package store

import (
	"errors"
	"time"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/logger"
)

// Outcome names stored for each run
const (
	OutcomeSucceeded = "succeeded"
	OutcomeCancelled = "cancelled"
	OutcomeTimedOut  = "timed_out"
	OutcomeFailed    = "failed"
)

// OutcomeOf classifies a run's terminal error
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, calibration.ErrCancelled):
		return OutcomeCancelled
	case errors.Is(err, calibration.ErrTimedOut):
		return OutcomeTimedOut
	default:
		return OutcomeFailed
	}
}

// Observer returns a calibration observer that records the finished run.
// Storage errors are logged, never surfaced to the run.
func (d *Database) Observer(expected []int, startedAt time.Time) calibration.Observer {
	return calibration.ObserverFuncs{
		OnFinished: func(sessionID string, result *calibration.Result, err error) {
			run := &Run{
				SessionID:   sessionID,
				Outcome:     OutcomeOf(err),
				Expected:    expected,
				StartedAt:   startedAt,
				CompletedAt: time.Now(),
			}
			if err != nil {
				run.Error = err.Error()
			}
			if result != nil {
				run.Frames = result.Frames
				run.Forced = result.Forced
				run.AspectRatio = result.AspectRatio
				run.Layout = result.Layout
				run.CompletedAt = result.CompletedAt
			}
			if _, dbErr := d.RecordRun(run); dbErr != nil {
				logger.Error("Failed to record calibration of session %s: %v", sessionID, dbErr)
			}
		},
	}
}
