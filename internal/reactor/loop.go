//go:build linux

package reactor

import (
	"encoding/binary"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds how long a single poll blocks, so a reactor with no
// registered fds still wakes up periodically and notices a Quit.
const pollTimeoutMs = 10000

// Task is a thunk posted to a Loop via RunInLoop/QueueInLoop.
type Task func()

// loopThreads tracks which OS threads already own a reactor, enforcing
// "the reactor aborts if the same thread tries to construct two reactors"
// (§4.3). Threads are only known once Run() calls LockOSThread, so the
// check happens there rather than in New.
var loopThreads sync.Map // int64 tid -> string loop name

// Loop is a reactor: one OS thread, one Poller, and a task queue with a
// wakeup fd. All mutation of fds registered on this loop happens on its
// thread; cross-thread callers must use RunInLoop/QueueInLoop.
type Loop struct {
	name   string
	poller *Poller

	wakeupFd      int
	wakeupChannel *Channel

	mu                  sync.Mutex
	pendingTasks        []Task
	callingPendingTasks atomic.Bool

	quitting atomic.Bool
	threadID atomic.Int64 // 0 until Run() locks an OS thread
	started  chan struct{}
}

// NewLoop constructs a reactor. It does not start running until Run is
// called (normally from a freshly spawned goroutine that will be pinned to
// its own OS thread for the loop's lifetime).
func NewLoop(name string) (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, errors.Wrapf(err, "reactor %s: new poller", name)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = p.close()
		return nil, errors.Wrapf(err, "reactor %s: eventfd", name)
	}
	l := &Loop{
		name:    name,
		poller:  p,
		wakeupFd: wfd,
		started: make(chan struct{}),
	}
	l.wakeupChannel = NewChannel(l, wfd)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)
	l.wakeupChannel.EnableReading()
	return l, nil
}

func (l *Loop) Name() string { return l.name }

// IsInLoopThread reports whether the calling goroutine is currently
// executing on this loop's pinned OS thread. Mirrors muduo's
// EventLoop::isInLoopThread() using the kernel thread id instead of a
// CurrentThread::tid() cache, since Go has no portable equivalent.
func (l *Loop) IsInLoopThread() bool {
	return int64(unix.Gettid()) == l.threadID.Load()
}

// Run pins the calling goroutine to an OS thread and executes the reactor's
// main loop until Quit is called. It must be called exactly once, normally
// from a dedicated goroutine (reactor.StartPool does this for worker
// reactors; callers owning a standalone reactor must `go loop.Run()`
// themselves).
func (l *Loop) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tid := int64(unix.Gettid())
	if _, loaded := loopThreads.LoadOrStore(tid, l.name); loaded {
		log.Fatalf("[reactor %s] thread %d already owns a reactor", l.name, tid)
	}
	defer loopThreads.Delete(tid)

	l.threadID.Store(tid)
	close(l.started)

	for !l.quitting.Load() {
		active := l.poller.poll(pollTimeoutMs)
		for _, r := range active {
			r.Channel.HandleEvent(r.Revents)
		}
		l.doPendingTasks()
	}
}

// Quit requests the loop exit at the next iteration boundary. Safe to call
// from any thread; if called off-thread it writes the wakeup fd so a
// blocked poll returns within one timeout.
func (l *Loop) Quit() {
	l.quitting.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop executes task immediately if called from the loop's own thread,
// otherwise queues it for the next iteration.
func (l *Loop) RunInLoop(task Task) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task under the pending-task lock. A wakeup byte is
// written whenever the caller is off-thread, or when the loop is currently
// draining its task list (a task enqueued mid-drain runs on the *next*
// iteration and needs its own wakeup to guarantee prompt service).
func (l *Loop) QueueInLoop(task Task) {
	traceID := uuid.NewString()
	l.mu.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	l.mu.Unlock()

	if verboseTasks {
		log.Printf("[reactor %s] queue task %s", l.name, traceID)
	}
	if !l.IsInLoopThread() || l.callingPendingTasks.Load() {
		l.wakeup()
	}
}

// verboseTasks gates the per-task trace log; off by default since it is a
// diagnostics aid, not load-bearing for correctness.
var verboseTasks = false

// SetVerboseTasks toggles per-task trace logging for all loops.
func SetVerboseTasks(v bool) { verboseTasks = v }

func (l *Loop) doPendingTasks() {
	l.mu.Lock()
	tasks := l.pendingTasks
	l.pendingTasks = nil
	l.mu.Unlock()

	l.callingPendingTasks.Store(true)
	for _, t := range tasks {
		t()
	}
	l.callingPendingTasks.Store(false)
}

func (l *Loop) handleWakeup() {
	var buf [8]byte
	_, err := unix.Read(l.wakeupFd, buf[:])
	if err != nil && err != unix.EAGAIN {
		log.Printf("[reactor %s] wakeup read: %v", l.name, err)
	}
}

func (l *Loop) wakeup() {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(l.wakeupFd, one[:]); err != nil && err != unix.EAGAIN {
		log.Printf("[reactor %s] wakeup write: %v", l.name, err)
	}
}

// updateChannel and removeChannel must run on the loop's own thread; callers
// off-thread are a programming error per §4.3 ("aborts on any operation that
// must happen in loop but is invoked from another thread").
func (l *Loop) updateChannel(c *Channel) {
	if l.threadID.Load() != 0 && !l.IsInLoopThread() {
		log.Fatalf("[reactor %s] updateChannel called off-thread", l.name)
	}
	var err error
	switch {
	case c.addedToPoller && c.IsNoneEvent():
		err = l.poller.remove(c)
		c.addedToPoller = false
	case c.addedToPoller:
		err = l.poller.modify(c, c.events)
	case !c.IsNoneEvent():
		err = l.poller.add(c, c.events)
		c.addedToPoller = true
	}
	if err != nil {
		log.Printf("[reactor %s] update channel fd=%d: %v", l.name, c.fd, err)
	}
}

func (l *Loop) removeChannel(c *Channel) {
	if l.threadID.Load() != 0 && !l.IsInLoopThread() {
		log.Fatalf("[reactor %s] removeChannel called off-thread", l.name)
	}
	if c.addedToPoller {
		if err := l.poller.remove(c); err != nil {
			log.Printf("[reactor %s] remove channel fd=%d: %v", l.name, c.fd, err)
		}
		c.addedToPoller = false
	}
}
