//go:build linux

package stream

import (
	"log"

	"golang.org/x/sys/unix"

	"echomesh/internal/reactor"
)

// NewConnectionCallback hands off a freshly accepted fd, together with the
// peer address the kernel reported, to whoever owns the listening loop.
type NewConnectionCallback func(fd int, peerAddr string)

// Acceptor owns the listening socket on the main reactor. Its one job is to
// accept connections as fast as the kernel offers them and immediately hand
// each fd to the caller for placement onto a worker reactor; it never reads
// or writes application bytes itself.
type Acceptor struct {
	loop       *reactor.Loop
	listenFd   int
	channel    *reactor.Channel
	listening  bool
	newConnCB  NewConnectionCallback

	// idleFd is a reserve file descriptor, opened once up front and closed
	// only while working around EMFILE/ENFILE so accept(2) always has a
	// spare fd to accept-then-immediately-drop the next pending connection
	// rather than spinning on a readable listening socket forever.
	idleFd int
}

// NewAcceptor binds and listens on addr but does not start accepting until
// Listen is called (matching StreamServer's two-phase bind/start split).
func NewAcceptor(loop *reactor.Loop, addr string) (*Acceptor, error) {
	fd, err := newListenSocket(addr)
	if err != nil {
		return nil, err
	}
	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	a := &Acceptor{
		loop:     loop,
		listenFd: fd,
		idleFd:   idleFd,
	}
	a.channel = reactor.NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) { a.newConnCB = cb }

// Listen enables the listening socket's readable event on the reactor. Must
// be called from the owning loop.
func (a *Acceptor) Listen() {
	a.listening = true
	a.channel.EnableReading()
}

func (a *Acceptor) ListenFd() int { return a.listenFd }

// handleRead drains every pending connection off the accept queue in one
// pass, since level-triggered epoll will simply re-fire if anything is left.
func (a *Acceptor) handleRead() {
	for {
		fd, sa, err := unix.Accept4(a.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EMFILE, unix.ENFILE:
				a.handleFdExhaustion()
				return
			case unix.ECONNABORTED, unix.EINTR:
				continue
			default:
				log.Printf("acceptor: accept4 error: %v", err)
				return
			}
		}
		peer := sockaddrString(sa)
		if a.newConnCB != nil {
			a.newConnCB(fd, peer)
		} else {
			unix.Close(fd)
		}
	}
}

// handleFdExhaustion implements the muduo idle-fd trick: close the reserve
// fd to free one descriptor, accept (and immediately drop) the connection
// that's stuck at the head of the queue so new clients stop seeing ECONNREFUSED,
// then reopen the reserve so the next exhaustion event can be absorbed too.
func (a *Acceptor) handleFdExhaustion() {
	unix.Close(a.idleFd)
	fd, _, err := unix.Accept4(a.listenFd, unix.SOCK_CLOEXEC)
	if err == nil {
		unix.Close(fd)
	}
	log.Printf("acceptor: fd exhaustion, dropped one pending connection")
	if idle, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0); err == nil {
		a.idleFd = idle
	}
}

// Close tears down the listening socket and its reserve fd. Must be called
// from the owning loop.
func (a *Acceptor) Close() {
	a.channel.Remove()
	unix.Close(a.listenFd)
	unix.Close(a.idleFd)
}
