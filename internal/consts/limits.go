package consts

import "time"

// Discovery protocol payloads
const (
	// DiscoveryRequest is the literal datagram a tile broadcasts to find the server
	DiscoveryRequest = "VIDEO_WALL_CONNECT_REQUEST"
	// DiscoveryResponse is the literal reply sent back to the probing tile
	DiscoveryResponse = "VIDEO_WALL_CONNECT_RESPONSE"
	// DiscoveryReadSize is the largest datagram the responder reads
	DiscoveryReadSize = 100
	// DefaultDiscoveryPort is the UDP port the responder binds by default
	DefaultDiscoveryPort = 65535
)

// Session limits
const (
	// DefaultMaxSlots is the advertised slot capacity of a session
	DefaultMaxSlots = 1024
	// ClientSendBuffer is the number of outbound messages buffered per client
	ClientSendBuffer = 256
	// MaxMessageSize is the largest inbound WebSocket message accepted
	MaxMessageSize = 8192
)

// Marker dictionary
const (
	// MarkerBits is the payload edge length of a fiducial, in cells
	MarkerBits = 6
	// MarkerDictionarySize is the number of symbols in the fiducial family
	MarkerDictionarySize = 250
	// DefaultMarkerPixels is the rendered edge length sent in WELCOME (one pixel per cell)
	DefaultMarkerPixels = 8
)

// Timeouts shared by the server, the stream launcher and calibration
const (
	// Timeout1Second pads the discover command's collection window
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds bounds HTTP shutdown and the encoder's stop grace
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds bounds a WebSocket write and reading request headers
	Timeout10Seconds = 10 * time.Second
	// Timeout60Seconds is how long a WebSocket may stay silent before it is dropped
	Timeout60Seconds = 60 * time.Second
	// Timeout2Minutes is the default wall-clock ceiling of a calibration run
	Timeout2Minutes = 2 * time.Minute
)
