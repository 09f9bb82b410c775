package registry

import "sync"

// Room is the registry's record for one group: its member set and the
// datagram endpoint last observed for each member (§3, §4.8).
type Room struct {
	ID       RoomId
	Members  map[UserId]struct{}
	UdpAddrs map[UserId]string // "host:port", learned from inbound datagrams only
}

// Rooms is the process-wide room registry. One mutex; critical sections are
// map-only (§4.9).
type Rooms struct {
	mu    sync.Mutex
	rooms map[RoomId]*Room

	users *Users // set once by NewRegistries; Join mirrors membership here
}

func newRooms() *Rooms {
	return &Rooms{rooms: make(map[RoomId]*Room)}
}

// Join adds id to roomID's member set, auto-creating the room if this is
// its first member, and mirrors the membership into the User registry.
func (r *Rooms) Join(roomID RoomId, id UserId) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, Members: make(map[UserId]struct{}), UdpAddrs: make(map[UserId]string)}
		r.rooms[roomID] = room
	}
	room.Members[id] = struct{}{}
	r.mu.Unlock()

	if r.users != nil {
		r.users.JoinRoom(id, roomID)
	}
}

// Leave removes id from roomID's member set and its datagram address, and
// mirrors the change into the User registry. Per the open-question decision
// recorded in DESIGN.md, an empty room is deleted outright rather than left
// to leak (§9 implementation choice).
func (r *Rooms) Leave(roomID RoomId, id UserId) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if ok {
		delete(room.Members, id)
		delete(room.UdpAddrs, id)
		if len(room.Members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	r.mu.Unlock()

	if r.users != nil {
		r.users.LeaveRoom(id)
	}
}

// Get returns a snapshot-safe read of roomID's membership, or (nil, false)
// if the room doesn't exist.
func (r *Rooms) Get(roomID RoomId) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	cp := &Room{ID: room.ID, Members: make(map[UserId]struct{}, len(room.Members)), UdpAddrs: make(map[UserId]string, len(room.UdpAddrs))}
	for id := range room.Members {
		cp.Members[id] = struct{}{}
	}
	for id, addr := range room.UdpAddrs {
		cp.UdpAddrs[id] = addr
	}
	return cp, true
}

// UserLogout removes id from whatever room it currently occupies, if any.
// Callers should prefer Users.Logout, which already leaves the user's room
// itself via Leave; this exists for callers that only have a Rooms reference.
func (r *Rooms) UserLogout(id UserId) {
	if r.users == nil {
		return
	}
	roomID, ok := r.users.RoomOf(id)
	if !ok {
		return
	}
	r.Leave(roomID, id)
}

// UsersIn returns a copy of roomID's current member ids, safe to iterate
// without holding any registry lock (§4.9 broadcast semantics: copy under
// lock, release, then iterate).
func (r *Rooms) UsersIn(roomID RoomId) []UserId {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]UserId, 0, len(room.Members))
	for id := range room.Members {
		out = append(out, id)
	}
	return out
}

// UpdateAddr records the datagram endpoint last observed for id in roomID.
// This is the sole mechanism by which the relay learns a user's datagram
// address (§4.8).
func (r *Rooms) UpdateAddr(roomID RoomId, id UserId, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if _, member := room.Members[id]; !member {
		return
	}
	room.UdpAddrs[id] = addr
}

// AddrOf returns the last-known datagram endpoint for id in roomID, and
// whether one has been observed yet.
func (r *Rooms) AddrOf(roomID RoomId, id UserId) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	addr, ok := room.UdpAddrs[id]
	return addr, ok
}

// Count returns the number of currently active rooms, for admin/stats use.
func (r *Rooms) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
