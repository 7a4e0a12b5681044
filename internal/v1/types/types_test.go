package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomCode_TrimsAndUppercases(t *testing.T) {
	code, err := ParseRoomCode("  abc-123  ")
	require.NoError(t, err)
	assert.Equal(t, RoomCodeType("ABC-123"), code)
}

func TestParseRoomCode_Empty(t *testing.T) {
	_, err := ParseRoomCode("   ")
	assert.ErrorIs(t, err, ErrEmptyValue)
}

func TestParseRoomCode_TooLong(t *testing.T) {
	_, err := ParseRoomCode(strings.Repeat("a", MaxRoomCodeLen+1))
	assert.ErrorIs(t, err, ErrValueTooLong)
}

func TestParseRoomCode_ExactBoundIsValid(t *testing.T) {
	code, err := ParseRoomCode(strings.Repeat("a", MaxRoomCodeLen))
	require.NoError(t, err)
	assert.Len(t, string(code), MaxRoomCodeLen)
}

func TestParseRoomCode_RejectsControlBytes(t *testing.T) {
	_, err := ParseRoomCode("abc\x01def")
	assert.ErrorIs(t, err, ErrIllegalByte)

	_, err = ParseRoomCode("abc def")
	assert.ErrorIs(t, err, ErrIllegalByte)
}

func TestParseRoomCode_RejectsNonASCII(t *testing.T) {
	_, err := ParseRoomCode("salón")
	assert.ErrorIs(t, err, ErrNotPrintable)
}

func TestParseClientID_PreservesCase(t *testing.T) {
	id, err := ParseClientID("  Device-7  ")
	require.NoError(t, err)
	assert.Equal(t, ClientIdType("Device-7"), id)
}

func TestParseClientID_Bounds(t *testing.T) {
	_, err := ParseClientID("")
	assert.ErrorIs(t, err, ErrEmptyValue)

	_, err = ParseClientID(strings.Repeat("x", MaxClientIdLen+1))
	assert.ErrorIs(t, err, ErrValueTooLong)

	id, err := ParseClientID(strings.Repeat("x", MaxClientIdLen))
	require.NoError(t, err)
	assert.Len(t, string(id), MaxClientIdLen)
}

func TestNewPeerJoined_Shape(t *testing.T) {
	env := NewPeerJoined("bob")

	assert.Equal(t, EventPeerJoined, env.Type)
	assert.Equal(t, ServerSenderID, env.SenderID)
	assert.Equal(t, TargetAll, env.TargetID)

	payload, ok := env.Payload.(PeerEventPayload)
	require.True(t, ok)
	assert.Equal(t, ClientIdType("bob"), payload.PeerID)

	ts, err := time.Parse(time.RFC3339, payload.TS)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestNewPeerLeft_Shape(t *testing.T) {
	env := NewPeerLeft("bob")

	assert.Equal(t, EventPeerLeft, env.Type)
	payload, ok := env.Payload.(PeerEventPayload)
	require.True(t, ok)
	assert.Equal(t, ClientIdType("bob"), payload.PeerID)
}

func TestNewError_DefaultsTargetToAll(t *testing.T) {
	env := NewError(ErrCodeRoomFull, "Room is at capacity.", "")
	assert.Equal(t, TargetAll, env.TargetID)

	env = NewError(ErrCodeRateLimited, "Slow down.", "alice")
	assert.Equal(t, "alice", env.TargetID)
}

func TestEnvelope_EncodeWireFormat(t *testing.T) {
	data, err := NewError(ErrCodeBadRequest, "Invalid room code.", "alice").Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "error", decoded["type"])
	assert.Equal(t, "server", decoded["senderId"])
	assert.Equal(t, "alice", decoded["targetId"])

	payload, ok := decoded["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bad_request", payload["code"])
	assert.Equal(t, "Invalid room code.", payload["message"])
}

func TestMustEncode_NeverEmpty(t *testing.T) {
	data := NewPeerJoined("bob").MustEncode()
	assert.True(t, json.Valid(data))
}
