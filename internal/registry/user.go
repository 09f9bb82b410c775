// Package registry holds the process-wide User and Room registries: the
// cross-transport correlation tables the Datagram Relay and the
// message Dispatcher's handlers consult to turn a UserId or RoomId into a
// live connection, a room membership set, or a datagram endpoint.
package registry

import (
	"sync"

	"echomesh/internal/stream"
)

// UserId is a monotonically increasing identifier assigned at login. 0 is
// reserved to mean "no such user" so lookups can return it as a zero value
// instead of an (id, bool) pair in the hot paths that want it.
type UserId uint64

// RoomId names a room. Rooms are created implicitly on first join.
type RoomId string

// User is the registry's record for one logged-in client.
type User struct {
	ID   UserId
	Name string
	Conn *stream.Connection
}

// Users is the process-wide user registry: online[id]->conn, the inverse
// conn->id, and the single-room membership each user currently holds.
// One mutex; critical sections are map-only (§4.9).
type Users struct {
	mu sync.Mutex

	online  map[UserId]*User
	byConn  map[*stream.Connection]UserId
	userRoom map[UserId]RoomId
	nextID  UserId

	rooms *Rooms // set once by NewRegistries; Logout fans out here
}

func newUsers() *Users {
	return &Users{
		online:   make(map[UserId]*User),
		byConn:   make(map[*stream.Connection]UserId),
		userRoom: make(map[UserId]RoomId),
	}
}

// Login assigns a fresh UserId to conn and records both directions of the
// user<->connection mapping.
func (u *Users) Login(name string, conn *stream.Connection) UserId {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextID++
	id := u.nextID
	u.online[id] = &User{ID: id, Name: name, Conn: conn}
	u.byConn[conn] = id
	return id
}

// Logout removes id from both directions and, if it was in a room, leaves
// that room too. Per the documented lock order (User then Room), this method
// must release the User lock before calling into Rooms.
func (u *Users) Logout(id UserId) {
	u.mu.Lock()
	user, ok := u.online[id]
	if !ok {
		u.mu.Unlock()
		return
	}
	delete(u.online, id)
	delete(u.byConn, user.Conn)
	roomID, inRoom := u.userRoom[id]
	delete(u.userRoom, id)
	u.mu.Unlock()

	if inRoom && u.rooms != nil {
		u.rooms.Leave(roomID, id)
	}
}

// ConnectionOf returns the connection registered for id, or nil if id isn't
// online.
func (u *Users) ConnectionOf(id UserId) *stream.Connection {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.online[id]
	if !ok {
		return nil
	}
	return user.Conn
}

// UserOf returns the id registered for conn, or 0 if none.
func (u *Users) UserOf(conn *stream.Connection) UserId {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.byConn[conn]
}

// NameOf returns the display name registered for id, or "" if id isn't
// online.
func (u *Users) NameOf(id UserId) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.online[id]
	if !ok {
		return ""
	}
	return user.Name
}

// JoinRoom records that id is now a member of roomID. Called by Rooms.Join
// after it has already recorded the membership on its side, so the two
// registries agree (invariant 4 of §3).
func (u *Users) JoinRoom(id UserId, roomID RoomId) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.userRoom[id] = roomID
}

// LeaveRoom clears id's current room, if any.
func (u *Users) LeaveRoom(id UserId) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.userRoom, id)
}

// RoomOf returns the room id currently holds, and whether it holds one.
func (u *Users) RoomOf(id UserId) (RoomId, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.userRoom[id]
	return r, ok
}

// Count returns the number of currently online users, for admin/stats use.
func (u *Users) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.online)
}
