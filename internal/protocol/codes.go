package protocol

// Error codes sent in ERROR and CALIBRATION_FAILED messages
const (
	CodeDuplicateClient       = "DUPLICATE_CLIENT"
	CodeDuplicateSession      = "DUPLICATE_SESSION"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeAlreadyMember         = "ALREADY_MEMBER"
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidMarkerID       = "INVALID_MARKER_ID"
	CodeDegenerateLayout      = "DEGENERATE_LAYOUT"
	CodeCalibrationInProgress = "CALIBRATION_IN_PROGRESS"
	CodeDeviceBusy            = "DEVICE_BUSY"
	CodeTimedOut              = "TIMED_OUT"
	CodeCancelled             = "CANCELLED"
	CodeDetectorFailure       = "DETECTOR_FAILURE"
	CodeNotInSession          = "NOT_IN_SESSION"
	CodeNotHost               = "NOT_HOST"
	CodeNotCalibrated         = "NOT_CALIBRATED"
	CodeStreamActive          = "STREAM_ACTIVE"
	CodeMarkerSpaceExhausted  = "MARKER_SPACE_EXHAUSTED"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeSessionFull           = "SESSION_FULL"
	CodeNotPlaying            = "NOT_PLAYING"
	CodeInternalError         = "INTERNAL_ERROR"
)
