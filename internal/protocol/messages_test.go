package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndDecode(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"SESSION_JOIN","request_id":"r1","data":{"session_id":"calm-bright-reef"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSessionJoin, msg.Type)
	assert.Equal(t, "r1", msg.RequestID)

	var req SessionJoinRequest
	require.NoError(t, msg.Decode(&req))
	assert.Equal(t, "calm-bright-reef", req.SessionID)
}

func TestParseRejectsBadFrames(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"data":{}}`))
	assert.Error(t, err)
}

func TestDecodeWithoutData(t *testing.T) {
	msg := NewMessage(TypePing, nil)
	var req StartRequest
	assert.NoError(t, msg.Decode(&req))
	assert.Empty(t, req.Source)
}

func TestNewResponseEncodesPayload(t *testing.T) {
	msg := NewResponse(TypeWelcome, "abc", Welcome{ClientID: "c1", MarkerID: 3, FiducialBitmap: []string{"11", "11"}})
	assert.Equal(t, "abc", msg.RequestID)
	assert.NotEmpty(t, msg.Timestamp)
	assert.Equal(t, "c1", msg.Data["client_id"])
	assert.EqualValues(t, 3, msg.Data["marker_id"])

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	back, err := Parse(raw)
	require.NoError(t, err)

	var w Welcome
	require.NoError(t, back.Decode(&w))
	assert.Equal(t, []string{"11", "11"}, w.FiducialBitmap)
}

func TestNewError(t *testing.T) {
	msg := NewError("r9", CodeNotHost, "only the host may start calibration")
	assert.Equal(t, TypeError, msg.Type)
	require.NotNil(t, msg.Error)
	assert.Equal(t, CodeNotHost, msg.Error.Code)
	assert.Equal(t, CodeNotHost, msg.Data["code"])
}

func TestToDataRejectsNonObjects(t *testing.T) {
	_, err := ToData([]int{1, 2})
	assert.Error(t, err)

	msg := NewResponse(TypePong, "r", 42)
	assert.Equal(t, TypeError, msg.Type)
}
