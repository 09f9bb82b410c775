package registry

import (
	"testing"

	"echomesh/internal/stream"
)

func TestLoginAssignsFreshIdsAndInverseMapsAgree(t *testing.T) {
	reg := NewRegistries()

	c1, c2 := &stream.Connection{}, &stream.Connection{}
	id1 := reg.Users.Login("alice", c1)
	id2 := reg.Users.Login("bob", c2)
	if id1 == id2 {
		t.Fatal("expected distinct ids")
	}
	if id1 == 0 || id2 == 0 {
		t.Fatal("0 is reserved for unknown, must not be assigned")
	}
	if reg.Users.NameOf(id1) != "alice" {
		t.Fatalf("expected alice, got %q", reg.Users.NameOf(id1))
	}
	if reg.Users.UserOf(c1) != id1 || reg.Users.UserOf(c2) != id2 {
		t.Fatal("conn->user map disagrees with the assigned ids")
	}
	if reg.Users.ConnectionOf(id1) != c1 || reg.Users.ConnectionOf(id2) != c2 {
		t.Fatal("user->conn map disagrees with the login connections")
	}
}

func TestLogoutRemovesBothDirections(t *testing.T) {
	reg := NewRegistries()
	id := reg.Users.Login("alice", nil)

	reg.Users.Logout(id)
	if reg.Users.NameOf(id) != "" {
		t.Fatal("expected user gone after logout")
	}
	if reg.Users.Count() != 0 {
		t.Fatalf("expected 0 online, got %d", reg.Users.Count())
	}
}

func TestJoinRoomMirrorsMembershipBothWays(t *testing.T) {
	reg := NewRegistries()
	id := reg.Users.Login("alice", nil)

	reg.Rooms.Join("lobby", id)

	roomID, ok := reg.Users.RoomOf(id)
	if !ok || roomID != "lobby" {
		t.Fatalf("expected user's room to be lobby, got %q, %v", roomID, ok)
	}
	members := reg.Rooms.UsersIn("lobby")
	if len(members) != 1 || members[0] != id {
		t.Fatalf("expected [id] in lobby, got %v", members)
	}
}

func TestLeaveRoomRemovesMembershipAndDeletesEmptyRoom(t *testing.T) {
	reg := NewRegistries()
	id := reg.Users.Login("alice", nil)
	reg.Rooms.Join("lobby", id)

	reg.Rooms.Leave("lobby", id)

	if _, ok := reg.Users.RoomOf(id); ok {
		t.Fatal("expected user to have no room after leave")
	}
	if _, ok := reg.Rooms.Get("lobby"); ok {
		t.Fatal("expected empty room to be deleted")
	}
}

func TestLogoutWhileInRoomLeavesRoomToo(t *testing.T) {
	reg := NewRegistries()
	id := reg.Users.Login("alice", nil)
	reg.Rooms.Join("lobby", id)

	reg.Users.Logout(id)

	if _, ok := reg.Rooms.Get("lobby"); ok {
		t.Fatal("expected room to be cleaned up after owning user logs out")
	}
}

func TestRoomNotDeletedWhileMembersRemain(t *testing.T) {
	reg := NewRegistries()
	a := reg.Users.Login("alice", nil)
	b := reg.Users.Login("bob", nil)
	reg.Rooms.Join("lobby", a)
	reg.Rooms.Join("lobby", b)

	reg.Rooms.Leave("lobby", a)

	room, ok := reg.Rooms.Get("lobby")
	if !ok {
		t.Fatal("expected room to still exist with one member left")
	}
	if _, member := room.Members[b]; !member {
		t.Fatal("expected bob to still be a member")
	}
}

func TestUpdateAddrOnlyAffectsCurrentMembers(t *testing.T) {
	reg := NewRegistries()
	a := reg.Users.Login("alice", nil)
	reg.Rooms.Join("lobby", a)

	reg.Rooms.UpdateAddr("lobby", a, "10.0.0.1:9999")
	addr, ok := reg.Rooms.AddrOf("lobby", a)
	if !ok || addr != "10.0.0.1:9999" {
		t.Fatalf("expected learned address, got %q, %v", addr, ok)
	}

	// A non-member's address update must be ignored (invariant 5 of §3:
	// a UserId in udpAddrs must also be in members).
	reg.Rooms.UpdateAddr("lobby", UserId(99999), "10.0.0.2:9999")
	if _, ok := reg.Rooms.AddrOf("lobby", UserId(99999)); ok {
		t.Fatal("expected non-member address update to be ignored")
	}
}

func TestUserOfReturnsZeroForUnknownConnection(t *testing.T) {
	reg := NewRegistries()
	if id := reg.Users.UserOf(nil); id != 0 {
		t.Fatalf("expected 0 for unregistered connection, got %d", id)
	}
}
