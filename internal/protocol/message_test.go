package protocol

import (
	"reflect"
	"testing"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	var c JSONCodec
	env := Envelope{
		Type:     TypeChatMsg,
		UserID:   42,
		UserName: "alice",
		RoomID:   "lobby",
		Text:     "hello room",
	}

	frame, err := c.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := c.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, env) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, env)
	}
}

func TestJSONCodecDecodeInvalidFrame(t *testing.T) {
	var c JSONCodec
	if _, err := c.Decode([]byte("not json")); err == nil {
		t.Fatal("expected decode error for invalid JSON")
	}
}

func TestStatusResponseEnvelope(t *testing.T) {
	var c JSONCodec
	env := Envelope{
		Type:   TypeRoomActionResponse,
		Status: StatusRoomNotFound,
		RoomID: "ghost-room",
	}
	frame, err := c.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := c.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Status != StatusRoomNotFound {
		t.Fatalf("expected status %q, got %q", StatusRoomNotFound, decoded.Status)
	}
}
