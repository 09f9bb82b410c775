//go:build linux

package reactor

import (
	"log"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// initEventListSize is the poller's starting return-buffer capacity; it
// doubles whenever a poll call fills it completely.
const initEventListSize = 16

// PollResult pairs a ready Channel with the events epoll reported for it.
type PollResult struct {
	Channel *Channel
	Revents Events
}

// Poller wraps epoll: a scalable readiness primitive keyed by fd. Channel
// identity is resolved in O(1) from the fd carried in the returned event.
type Poller struct {
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &Poller{
		epfd:     epfd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *Poller) add(c *Channel, events Events) error {
	ev := unix.EpollEvent{Events: toEpollMask(events), Fd: int32(c.fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, c.fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll_ctl add fd=%d", c.fd)
	}
	p.channels[c.fd] = c
	return nil
}

func (p *Poller) modify(c *Channel, events Events) error {
	ev := unix.EpollEvent{Events: toEpollMask(events), Fd: int32(c.fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll_ctl mod fd=%d", c.fd)
	}
	return nil
}

func (p *Poller) remove(c *Channel) error {
	// Linux < 2.6.9 requires a non-nil event pointer even for DEL.
	ev := unix.EpollEvent{}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.fd, &ev); err != nil {
		delete(p.channels, c.fd)
		return errors.Wrapf(err, "epoll_ctl del fd=%d", c.fd)
	}
	delete(p.channels, c.fd)
	return nil
}

// poll blocks up to timeoutMs and returns the ready channels. It returns a
// nil result on timeout and on EINTR; any other error is logged and
// swallowed, matching §4.1's "other errors are logged" policy — a poll
// failure must never bring down the reactor loop.
func (p *Poller) poll(timeoutMs int) []PollResult {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		log.Printf("[poller] epoll_wait: %v", err)
		return nil
	}
	if n == len(p.events) {
		p.events = append(p.events, make([]unix.EpollEvent, len(p.events))...)
	}
	if n == 0 {
		return nil
	}
	results := make([]PollResult, 0, n)
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		c, ok := p.channels[fd]
		if !ok {
			continue
		}
		results = append(results, PollResult{Channel: c, Revents: fromEpollMask(p.events[i].Events)})
	}
	return results
}

func (p *Poller) close() error {
	return unix.Close(p.epfd)
}
