package protocol

// Welcome is sent once per connection after registration
type Welcome struct {
	ClientID       string   `json:"client_id"`
	MarkerID       int      `json:"marker_id"`
	FiducialBitmap []string `json:"fiducial_bitmap"`
}

// SessionSummary describes one session in listings
type SessionSummary struct {
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
	MaxSlots    int    `json:"max_slots"`
}

// SessionList answers SESSION_LIST_REQ
type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionCreateRequest is the SESSION_CREATE payload
type SessionCreateRequest struct {
	Name      string `json:"name"`
	SessionID string `json:"session_id,omitempty"`
}

// SessionCreated answers SESSION_CREATE
type SessionCreated struct {
	SessionID string `json:"session_id"`
}

// SessionJoinRequest is the SESSION_JOIN payload
type SessionJoinRequest struct {
	SessionID string `json:"session_id"`
}

// SessionJoined answers SESSION_JOIN
type SessionJoined struct {
	SessionID string           `json:"session_id"`
	SlotIndex int              `json:"slot_index"`
	Sessions  []SessionSummary `json:"sessions"`
}

// SessionLeft answers SESSION_LEAVE
type SessionLeft struct {
	SessionID string `json:"session_id,omitempty"`
}

// SessionUpdated tells members the membership changed
type SessionUpdated struct {
	SessionID string   `json:"session_id"`
	Host      string   `json:"host"`
	Members   []string `json:"members"`
}

// ShowMarker asks members to display their fiducial
type ShowMarker struct {
	SessionID string `json:"session_id"`
	Expected  []int  `json:"expected"`
}

// CalibrationProgress reports one non-matching capture
type CalibrationProgress struct {
	SessionID string `json:"session_id"`
	Detected  []int  `json:"detected"`
	Expected  []int  `json:"expected"`
	Frame     int    `json:"frame"`
}

// CalibrationResult carries the normalized layout. Layout keys are marker
// IDs in decimal; each value is four [x, y] corners.
type CalibrationResult struct {
	SessionID   string                   `json:"session_id"`
	Layout      map[string][4][2]float64 `json:"layout"`
	AspectRatio float64                  `json:"aspect_ratio"`
	Frames      int                      `json:"frames"`
	Forced      bool                     `json:"forced,omitempty"`
}

// CalibrationFailed ends a run without a layout
type CalibrationFailed struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// StartRequest is the START payload
type StartRequest struct {
	Source string `json:"source,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

// PlaybackStarted announces the multicast stream
type PlaybackStarted struct {
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint"`
	Source    string `json:"source,omitempty"`
}

// PlaybackStopped announces the stream ended
type PlaybackStopped struct {
	SessionID string `json:"session_id"`
}
