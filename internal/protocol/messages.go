// Package protocol defines the JSON messages exchanged with wall clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message kinds
const (
	TypeHello             = "HELLO"
	TypeSessionListReq    = "SESSION_LIST_REQ"
	TypeSessionCreate     = "SESSION_CREATE"
	TypeSessionJoin       = "SESSION_JOIN"
	TypeSessionLeave      = "SESSION_LEAVE"
	TypeStartCalibration  = "START_CALIBRATION"
	TypeCancelCalibration = "CANCEL_CALIBRATION"
	TypeStart             = "START"
	TypeStop              = "STOP"
	TypePing              = "PING"
)

// Outbound message kinds
const (
	TypeWelcome             = "WELCOME"
	TypeSessionListRes      = "SESSION_LIST_RES"
	TypeSessionCreated      = "SESSION_CREATED"
	TypeSessionJoined       = "SESSION_JOINED"
	TypeSessionLeft         = "SESSION_LEFT"
	TypeSessionUpdated      = "SESSION_UPDATED"
	TypeShowMarker          = "SHOW_MARKER"
	TypeCalibrationProgress = "CALIBRATION_PROGRESS"
	TypeCalibrationResult   = "CALIBRATION_RESULT"
	TypeCalibrationFailed   = "CALIBRATION_FAILED"
	TypePlaybackStarted     = "PLAYBACK_STARTED"
	TypePlaybackStopped     = "PLAYBACK_STOPPED"
	TypePong                = "PONG"
	TypeError               = "ERROR"
)

// Message is the envelope for every frame on the wire
type Message struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Error     *ErrorInfo             `json:"error,omitempty"`
}

// ErrorInfo carries a machine readable code and a human message
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewMessage creates a message with raw data
func NewMessage(msgType string, data map[string]interface{}) *Message {
	return &Message{
		Type:      msgType,
		Data:      data,
		Timestamp: now(),
	}
}

// NewResponse creates a message answering requestID. payload is any value
// that encodes as a JSON object; nil sends no data.
func NewResponse(msgType, requestID string, payload interface{}) *Message {
	msg := &Message{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: now(),
	}
	if payload != nil {
		data, err := ToData(payload)
		if err != nil {
			return NewError(requestID, "INTERNAL_ERROR", err.Error())
		}
		msg.Data = data
	}
	return msg
}

// NewEvent creates an unsolicited message
func NewEvent(msgType string, payload interface{}) *Message {
	return NewResponse(msgType, "", payload)
}

// NewError creates an ERROR message. The code and message are repeated in
// data so clients that only look at data see them too.
func NewError(requestID, code, message string) *Message {
	return &Message{
		Type:      TypeError,
		RequestID: requestID,
		Data: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: now(),
	}
}

// Decode unmarshals the message data into v
func (m *Message) Decode(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	raw, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// ToData converts a struct into the generic data map
func ToData(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return data, nil
}

// Parse decodes one frame
func Parse(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}
	return &msg, nil
}
