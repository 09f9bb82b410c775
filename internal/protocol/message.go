// Package protocol defines the stream-transport wire contract (§6): a
// tagged-union JSON envelope plus the status codes business handlers attach
// to their responses. The Codec interface keeps the encode/decode step
// pluggable, so a deployment that wants a binary schema instead of JSON can
// swap it in without touching the reactor, connection, or registry code.
package protocol

import "encoding/json"

// Message types exchanged over the framed stream transport.
const (
	TypeLoginRequest       = "login_request"
	TypeLoginResponse      = "login_response"
	TypeRoomAction         = "room_action"
	TypeRoomActionResponse = "room_action_response"
	TypeChatMsg            = "chat_msg"
	TypeLogout             = "logout"
	TypeUserJoined         = "user_joined"
	TypeUserLeft           = "user_left"
	TypeError              = "error"
)

// RoomAction values carried by a TypeRoomAction envelope.
const (
	RoomActionJoin  = "join"
	RoomActionLeave = "leave"
)

// StatusCode values attached to response envelopes.
type StatusCode string

const (
	StatusOK           StatusCode = "ok"
	StatusError        StatusCode = "error"
	StatusRoomNotFound StatusCode = "room_not_found"
	StatusUserNotFound StatusCode = "user_not_found"
	StatusBadRequest   StatusCode = "bad_request"
)

// Envelope is the JSON control/chat message exchanged over the stream
// transport (§6). It is a tagged union: Type selects which of the optional
// fields are meaningful.
type Envelope struct {
	Type string `json:"type"`

	UserID   uint64 `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`

	RoomID string `json:"room_id,omitempty"`
	Action string `json:"action,omitempty"`

	Text string `json:"text,omitempty"`

	Status  StatusCode `json:"status,omitempty"`
	Message string     `json:"message,omitempty"`

	Members []string `json:"members,omitempty"`
}

// Codec encodes and decodes Envelopes to and from the bytes a
// StreamConnection's framing layer carries. JSONCodec is the only
// implementation shipped here; a production deployment wanting a compact
// binary schema can supply its own without touching the reactor/connection
// layers, which only deal in opaque frame payloads.
type Codec interface {
	Encode(env Envelope) ([]byte, error)
	Decode(frame []byte) (Envelope, error)
}

// JSONCodec implements Codec using encoding/json.
type JSONCodec struct{}

func (JSONCodec) Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSONCodec) Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
