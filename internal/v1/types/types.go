package types

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/quadcall/signaling/internal/v1/auth"
)

// --- Core Domain Types ---

// RoomCodeType is the opaque code grouping clients into a room.
type RoomCodeType string

// ClientIdType represents a unique identifier for a client connection.
type ClientIdType string

// EventType enumerates the hub-originated envelope kinds.
type EventType string

const (
	EventPeerJoined EventType = "peer_joined"
	EventPeerLeft   EventType = "peer_left"
	EventError      EventType = "error"
)

// ErrorCode enumerates the error kinds the hub emits to clients.
type ErrorCode string

const (
	ErrCodeBadRequest   ErrorCode = "bad_request"
	ErrCodeAuthFailed   ErrorCode = "auth_failed"
	ErrCodeRoomFull     ErrorCode = "room_full"
	ErrCodeRateLimited  ErrorCode = "rate_limited"
	ErrCodeSlowConsumer ErrorCode = "slow_consumer"
	ErrCodeInternal     ErrorCode = "internal"
)

// ServerSenderID is the senderId carried by every hub-originated envelope.
const ServerSenderID = "server"

// TargetAll addresses an envelope to every member of the room.
const TargetAll = "*"

// WebSocket close codes. 4000-4003 mirror the protocol the mobile clients
// already understand.
const (
	CloseRoomIdle   = 4000
	CloseBadRequest = 4001
	CloseRoomFull   = 4002
	CloseAuthFailed = 4003
)

// Input length bounds for the upgrade query.
const (
	MaxRoomCodeLen = 64
	MaxClientIdLen = 128
)

// --- Envelopes ---

// Envelope is a hub-originated message. Peer-originated frames never take
// this shape on the server: they are relayed as opaque bytes.
type Envelope struct {
	Type     EventType `json:"type"`
	SenderID string    `json:"senderId"`
	TargetID string    `json:"targetId"`
	Payload  any       `json:"payload"`
}

// PeerEventPayload is the payload of peer_joined and peer_left events.
type PeerEventPayload struct {
	PeerID ClientIdType `json:"peerId"`
	TS     string       `json:"ts"`
}

// ErrorPayload is the payload of error events.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewPeerJoined builds the announcement sent to pre-existing members when a
// new member enters their room.
func NewPeerJoined(peer ClientIdType) Envelope {
	return Envelope{
		Type:     EventPeerJoined,
		SenderID: ServerSenderID,
		TargetID: TargetAll,
		Payload:  PeerEventPayload{PeerID: peer, TS: time.Now().UTC().Format(time.RFC3339)},
	}
}

// NewPeerLeft builds the announcement sent to remaining members when a member
// leaves their room.
func NewPeerLeft(peer ClientIdType) Envelope {
	return Envelope{
		Type:     EventPeerLeft,
		SenderID: ServerSenderID,
		TargetID: TargetAll,
		Payload:  PeerEventPayload{PeerID: peer, TS: time.Now().UTC().Format(time.RFC3339)},
	}
}

// NewError builds an error envelope addressed to target ("*" or a client id).
func NewError(code ErrorCode, message string, target string) Envelope {
	if target == "" {
		target = TargetAll
	}
	return Envelope{
		Type:     EventError,
		SenderID: ServerSenderID,
		TargetID: target,
		Payload:  ErrorPayload{Code: code, Message: message},
	}
}

// Encode serializes the envelope to compact JSON.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// MustEncode serializes the envelope, falling back to a minimal internal
// error frame if marshaling fails. Server envelopes are built from plain
// structs, so the fallback is unreachable in practice.
func (e Envelope) MustEncode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"error","senderId":"server","targetId":"*","payload":{"code":"internal","message":"encode failure"}}`)
	}
	return data
}

// --- Upgrade query validation ---

var (
	ErrEmptyValue   = errors.New("value is empty after trimming")
	ErrValueTooLong = errors.New("value exceeds length bound")
	ErrIllegalByte  = errors.New("value contains whitespace or control characters")
	ErrNotPrintable = errors.New("value contains non-ASCII bytes")
)

// printableASCII rejects anything outside 0x21..0x7E. Control characters and
// whitespace are never valid in room codes or client ids.
func printableASCII(s string) error {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b > 0x7E {
			return ErrNotPrintable
		}
		if b <= 0x20 || b == 0x7F {
			return ErrIllegalByte
		}
	}
	return nil
}

// ParseRoomCode trims and upper-cases a raw room code and enforces the input
// bounds (1..64 bytes, printable ASCII).
func ParseRoomCode(raw string) (RoomCodeType, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", ErrEmptyValue
	}
	if len(code) > MaxRoomCodeLen {
		return "", ErrValueTooLong
	}
	if err := printableASCII(code); err != nil {
		return "", err
	}
	return RoomCodeType(code), nil
}

// ParseClientID trims a raw client id and enforces the input bounds
// (1..128 bytes, printable ASCII).
func ParseClientID(raw string) (ClientIdType, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrEmptyValue
	}
	if len(id) > MaxClientIdLen {
		return "", ErrValueTooLong
	}
	if err := printableASCII(id); err != nil {
		return "", err
	}
	return ClientIdType(id), nil
}

// --- Shared Interfaces ---

// TokenVerifier defines the interface for bearer-token verification services.
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

// ClientInterface defines the behavior the room package needs from a live
// member connection, without depending on the transport package.
type ClientInterface interface {
	GetID() ClientIdType
	// GetSubject returns the token subject, used for logging only.
	GetSubject() string
	// Enqueue offers a frame to the member's bounded, ordered outbound
	// queue; relay frames and peer events share it so enqueue order is
	// delivery order. It never blocks; false means the queue overflowed
	// (slow consumer).
	Enqueue(frame []byte) bool
	// EnqueueControl offers a self-addressed error envelope to the member's
	// priority control queue. Best effort, never blocks.
	EnqueueControl(frame []byte)
	// CloseWithStatus records the close code to send on the wire, then
	// disconnects. Idempotent.
	CloseWithStatus(code int, reason string)
	// Disconnect tears the connection down. Idempotent.
	Disconnect()
}
