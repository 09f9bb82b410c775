//go:build linux

// Package voice implements the Datagram Relay (§4.8): the UDP path that
// forwards Opus voice packets between members of a room, learning each
// sender's datagram endpoint from the packets themselves.
package voice

import (
	"encoding/binary"
	"log"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"echomesh/internal/reactor"
	"echomesh/internal/registry"
)

// HeaderSize is the fixed prefix every voice packet carries on the wire:
// seq:uint32 BE, timestamp:uint32 BE, userId:uint32 BE (§6).
const HeaderSize = 12

// MaxPacketSize is the largest datagram the relay will accept; anything the
// kernel reports as larger is truncated UDP and dropped.
const MaxPacketSize = 2048

// Relay owns one non-blocking UDP socket and the reactor it's registered
// with. It never blocks a sendto: a would-block forward is simply dropped,
// per §4.8's "relay sends never block" rule.
type Relay struct {
	loop *reactor.Loop
	fd   int

	channel *reactor.Channel

	users *registry.Users
	rooms *registry.Rooms

	// Mutated on the relay's own reactor thread but read from the admin
	// HTTP surface's goroutine via Stats(), so these need atomics rather
	// than plain fields (§5: reactor-local state stays off other threads
	// unless synchronized).
	droppedNoRoom atomic.Uint64
	droppedNoAddr atomic.Uint64
	forwarded     atomic.Uint64
}

// NewRelay binds a UDP socket to addr and registers it with loop. Packets
// aren't processed until the reactor starts running and reports readability.
func NewRelay(loop *reactor.Loop, addr string, users *registry.Users, rooms *registry.Rooms) (*Relay, error) {
	sa, family, err := resolveUDPAddr(addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve datagram address")
	}

	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "unix.Socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "unix.Bind")
	}

	r := &Relay{loop: loop, fd: fd, users: users, rooms: rooms}
	r.channel = reactor.NewChannel(loop, fd)
	r.channel.SetReadCallback(r.handleRead)
	return r, nil
}

// Start enables the relay's read readiness; must run on, or is posted to,
// the relay's loop.
func (r *Relay) Start() {
	r.loop.RunInLoop(r.channel.EnableReading)
}

func (r *Relay) Fd() int { return r.fd }

// handleRead drains every pending datagram in one pass, mirroring the
// Acceptor's "drain until EAGAIN" style (§4.8, §4.1).
func (r *Relay) handleRead() {
	var buf [MaxPacketSize]byte
	for {
		// MSG_TRUNC makes the kernel report a datagram's real length even
		// when it did not fit in buf, so oversize packets can be told apart.
		n, from, err := unix.Recvfrom(r.fd, buf[:], unix.MSG_TRUNC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			log.Printf("relay: recvfrom error: %v", err)
			return
		}
		if n > MaxPacketSize {
			continue
		}
		r.handlePacket(buf[:n], from)
	}
}

func (r *Relay) handlePacket(packet []byte, from unix.Sockaddr) {
	if len(packet) < HeaderSize {
		return
	}
	userID := registry.UserId(binary.BigEndian.Uint32(packet[8:12]))

	roomID, ok := r.users.RoomOf(userID)
	if !ok {
		r.droppedNoRoom.Add(1)
		return
	}

	fromAddr := sockaddrString(from)
	r.rooms.UpdateAddr(roomID, userID, fromAddr)

	for _, member := range r.rooms.UsersIn(roomID) {
		if member == userID {
			continue
		}
		addr, ok := r.rooms.AddrOf(roomID, member)
		if !ok {
			r.droppedNoAddr.Add(1)
			continue
		}
		r.forwardTo(packet, addr)
	}
}

// forwardTo sends packet verbatim (header included, §6) to addr. A
// would-block or any other send error is a silently dropped forward, never
// a blocking retry.
func (r *Relay) forwardTo(packet []byte, addr string) {
	sa, err := parseHostPort(addr)
	if err != nil {
		return
	}
	if err := unix.Sendto(r.fd, packet, 0, sa); err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			log.Printf("relay: sendto %s failed: %v", addr, err)
		}
		return
	}
	r.forwarded.Add(1)
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Forwarded     uint64
	DroppedNoRoom uint64
	DroppedNoAddr uint64
}

// Stats is safe to call from any thread; it only reads the atomic counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Forwarded:     r.forwarded.Load(),
		DroppedNoRoom: r.droppedNoRoom.Load(),
		DroppedNoAddr: r.droppedNoAddr.Load(),
	}
}

// Close releases the relay's socket. Must run on the owning loop.
func (r *Relay) Close() {
	r.channel.Remove()
	unix.Close(r.fd)
}
