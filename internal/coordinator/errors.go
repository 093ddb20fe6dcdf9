package coordinator

import (
	"errors"

	"github.com/codefionn/tilewall/internal/calibration"
	"github.com/codefionn/tilewall/internal/marker"
	"github.com/codefionn/tilewall/internal/media"
	"github.com/codefionn/tilewall/internal/protocol"
	"github.com/codefionn/tilewall/internal/registry"
	"github.com/codefionn/tilewall/internal/session"
	"github.com/codefionn/tilewall/internal/stream"
)

var (
	// ErrNotInSession is returned for session operations by a client outside any session
	ErrNotInSession = errors.New("client is not in a session")
	// ErrNotHost is returned when a non-host issues a host-only request
	ErrNotHost = errors.New("only the session host may do this")
	// ErrNotCalibrated is returned when playback starts before calibration
	ErrNotCalibrated = errors.New("session has no calibration")
	// ErrInvalidRequest is returned for malformed payloads
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotPlaying is returned by STOP when the session owns no stream
	ErrNotPlaying = errors.New("session is not playing")
	// ErrStreamingUnavailable is returned when no stream launcher is configured
	ErrStreamingUnavailable = errors.New("streaming is not configured")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{registry.ErrDuplicateClient, protocol.CodeDuplicateClient},
	{registry.ErrNotFound, protocol.CodeNotFound},
	{registry.ErrMarkerSpaceExhausted, protocol.CodeMarkerSpaceExhausted},
	{session.ErrDuplicateSession, protocol.CodeDuplicateSession},
	{session.ErrSessionNotFound, protocol.CodeSessionNotFound},
	{session.ErrAlreadyMember, protocol.CodeAlreadyMember},
	{session.ErrSessionFull, protocol.CodeSessionFull},
	{marker.ErrInvalidMarkerID, protocol.CodeInvalidMarkerID},
	{marker.ErrInvalidSize, protocol.CodeInvalidMarkerID},
	{calibration.ErrDegenerateLayout, protocol.CodeDegenerateLayout},
	{calibration.ErrCalibrationInProgress, protocol.CodeCalibrationInProgress},
	{calibration.ErrDeviceBusy, protocol.CodeDeviceBusy},
	{calibration.ErrTimedOut, protocol.CodeTimedOut},
	{calibration.ErrCancelled, protocol.CodeCancelled},
	{calibration.ErrDetectorFailure, protocol.CodeDetectorFailure},
	{calibration.ErrNoRun, protocol.CodeNotFound},
	{stream.ErrStreamActive, protocol.CodeStreamActive},
	{stream.ErrUnknownMode, protocol.CodeInvalidRequest},
	{media.ErrUnknownMedia, protocol.CodeNotFound},
	{ErrNotInSession, protocol.CodeNotInSession},
	{ErrNotHost, protocol.CodeNotHost},
	{ErrNotCalibrated, protocol.CodeNotCalibrated},
	{ErrNotPlaying, protocol.CodeNotPlaying},
	{ErrInvalidRequest, protocol.CodeInvalidRequest},
}

// ErrorCode maps an error to its wire code. Unknown errors are internal.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return protocol.CodeInternalError
}
