package reactor

import "golang.org/x/sys/unix"

// Events is a bitmask of channel readiness conditions, independent of the
// raw epoll constants so the rest of the package doesn't leak unix types.
type Events uint32

const (
	EventNone Events = 0

	// EventRead and EventWrite are the two masks a Channel can request.
	EventRead  Events = 1 << 0
	EventWrite Events = 1 << 1

	// The remaining bits only ever appear in a returned event set; a
	// Channel cannot request them directly.
	EventPri    Events = 1 << 2
	EventRdHup  Events = 1 << 3
	EventError  Events = 1 << 4
	EventHangup Events = 1 << 5
)

// toEpollMask translates a requested Events mask into the epoll_event.Events
// field. EPOLLPRI and EPOLLRDHUP are always added alongside a read request so
// the returned set can carry priority and peer-half-close notifications.
func toEpollMask(ev Events) uint32 {
	var m uint32
	if ev&EventRead != 0 {
		m |= unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	}
	if ev&EventWrite != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func fromEpollMask(m uint32) Events {
	var ev Events
	if m&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if m&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if m&unix.EPOLLPRI != 0 {
		ev |= EventPri
	}
	if m&unix.EPOLLRDHUP != 0 {
		ev |= EventRdHup
	}
	if m&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if m&unix.EPOLLHUP != 0 {
		ev |= EventHangup
	}
	return ev
}
