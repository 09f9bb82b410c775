package registry

// Registries bundles the User and Room registries with their cross-references
// already wired, so callers never have to construct one half nil and patch
// it in later.
type Registries struct {
	Users *Users
	Rooms *Rooms
}

// NewRegistries builds both registries and wires their back-references in
// one step: Users.Logout needs to call into Rooms.Leave, and Rooms.Join/Leave
// need to call into Users.JoinRoom/LeaveRoom, so neither can be fully built
// alone.
func NewRegistries() *Registries {
	u := newUsers()
	r := newRooms()
	u.rooms = r
	r.users = u
	return &Registries{Users: u, Rooms: r}
}
