// Package handlers supplies the minimal business-logic handler table the
// Dispatcher needs to exercise end to end: login, room join/leave, chat
// broadcast, and logout. The core's Non-goal is "no business-logic handlers
// beyond" this set (SPEC_FULL.md §Non-goals) — these exist so the reactor,
// connection, registry, and dispatcher layers have something real to route.
package handlers

import (
	"log"

	"echomesh/internal/dispatch"
	"echomesh/internal/protocol"
	"echomesh/internal/registry"
	"echomesh/internal/stream"
)

// Set wires every handler this package provides into d, using reg for all
// state. Connections are correlated to users via reg.Users.UserOf, keyed by
// the *stream.Connection pointer itself — never by an application-chosen id.
func Set(d *dispatch.Dispatcher, reg *registry.Registries, codec protocol.Codec) {
	h := &handlerSet{reg: reg, codec: codec}
	d.Register(protocol.TypeLoginRequest, h.login)
	d.Register(protocol.TypeRoomAction, h.roomAction)
	d.Register(protocol.TypeChatMsg, h.chat)
	d.Register(protocol.TypeLogout, h.logout)
}

type handlerSet struct {
	reg   *registry.Registries
	codec protocol.Codec
}

// send encodes env and hands it to conn.SendFramed, which length-prefixes
// it via the Buffer's prepend-reserve trick and posts it across threads as
// needed — handlers never have to care whether they're running on conn's
// owning reactor.
func (h *handlerSet) send(conn *stream.Connection, env protocol.Envelope) {
	frame, err := h.codec.Encode(env)
	if err != nil {
		log.Printf("handlers: encode failed for %s: %v", env.Type, err)
		return
	}
	conn.SendFramed(frame)
}

func (h *handlerSet) login(conn *stream.Connection, env protocol.Envelope) {
	if env.UserName == "" {
		h.send(conn, protocol.Envelope{Type: protocol.TypeLoginResponse, Status: protocol.StatusBadRequest, Message: "user_name required"})
		return
	}
	id := h.reg.Users.Login(env.UserName, conn)
	h.send(conn, protocol.Envelope{
		Type:   protocol.TypeLoginResponse,
		Status: protocol.StatusOK,
		UserID: uint64(id),
	})
}

func (h *handlerSet) roomAction(conn *stream.Connection, env protocol.Envelope) {
	userID := h.reg.Users.UserOf(conn)
	if userID == 0 {
		h.send(conn, protocol.Envelope{Type: protocol.TypeRoomActionResponse, Status: protocol.StatusUserNotFound})
		return
	}
	roomID := registry.RoomId(env.RoomID)

	switch env.Action {
	case protocol.RoomActionJoin:
		h.reg.Rooms.Join(roomID, userID)
		h.broadcastPresence(roomID, userID, protocol.TypeUserJoined)
	case protocol.RoomActionLeave:
		h.reg.Rooms.Leave(roomID, userID)
		h.broadcastPresence(roomID, userID, protocol.TypeUserLeft)
	default:
		h.send(conn, protocol.Envelope{Type: protocol.TypeRoomActionResponse, Status: protocol.StatusBadRequest})
		return
	}

	h.send(conn, protocol.Envelope{
		Type:   protocol.TypeRoomActionResponse,
		Status: protocol.StatusOK,
		RoomID: env.RoomID,
	})
}

// broadcastPresence copies the member set under the Room lock, releases it,
// then sends to each member — never holding the registry lock across a
// reactor boundary (§4.9 broadcast semantics).
func (h *handlerSet) broadcastPresence(roomID registry.RoomId, userID registry.UserId, eventType string) {
	members := h.reg.Rooms.UsersIn(roomID)
	name := h.reg.Users.NameOf(userID)
	env := protocol.Envelope{
		Type:     eventType,
		RoomID:   string(roomID),
		UserID:   uint64(userID),
		UserName: name,
	}
	for _, m := range members {
		if m == userID {
			continue
		}
		if conn := h.reg.Users.ConnectionOf(m); conn != nil {
			h.send(conn, env)
		}
	}
}

func (h *handlerSet) chat(conn *stream.Connection, env protocol.Envelope) {
	userID := h.reg.Users.UserOf(conn)
	if userID == 0 {
		return
	}
	roomID, ok := h.reg.Users.RoomOf(userID)
	if !ok {
		h.send(conn, protocol.Envelope{Type: protocol.TypeError, Status: protocol.StatusRoomNotFound})
		return
	}

	name := h.reg.Users.NameOf(userID)
	out := protocol.Envelope{
		Type:     protocol.TypeChatMsg,
		RoomID:   string(roomID),
		UserID:   uint64(userID),
		UserName: name,
		Text:     env.Text,
	}
	members := h.reg.Rooms.UsersIn(roomID)
	for _, m := range members {
		if m == userID {
			continue
		}
		if c := h.reg.Users.ConnectionOf(m); c != nil {
			h.send(c, out)
		}
	}
}

func (h *handlerSet) logout(conn *stream.Connection, env protocol.Envelope) {
	userID := h.reg.Users.UserOf(conn)
	if userID == 0 {
		return
	}
	if roomID, ok := h.reg.Users.RoomOf(userID); ok {
		h.broadcastPresence(roomID, userID, protocol.TypeUserLeft)
	}
	h.reg.Users.Logout(userID)
}
