//go:build linux

package stream

import (
	"log"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"echomesh/internal/reactor"
)

// State is a StreamConnection's lifecycle state. Disconnected is terminal:
// once reached, no further reads, writes, or state transitions occur.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// MaxFrameLength bounds a single frame's payload length (§4.6 / §6):
// 0 <= L <= 65536. Anything outside that range is a fatal protocol
// violation and closes the connection.
const MaxFrameLength = 65536

// MessageCallback receives one fully-reassembled frame's payload, already
// stripped of its 4-byte length prefix.
type MessageCallback func(conn *Connection, frame []byte)

// ConnectionCallback is invoked on every state change that a handler might
// care about (most notably Connected and Disconnected).
type ConnectionCallback func(conn *Connection)

// CloseCallback runs once, after a connection reaches Disconnected, so the
// owning StreamServer can remove it from its connection map.
type CloseCallback func(conn *Connection)

// WriteCompleteCallback fires once the output buffer fully drains after a
// send, whether that happened immediately or after buffering.
type WriteCompleteCallback func(conn *Connection)

// Connection is a per-client state machine: input/output buffers, a
// length-prefixed framing parser, and a graceful, cooperative shutdown path.
// It is exclusively owned by its assigned reactor once ConnectEstablished
// has run; any other goroutine must route through Send/Shutdown, which post
// to that reactor.
type Connection struct {
	name      string
	loop      *reactor.Loop
	fd        int
	localAddr string
	peerAddr  string

	channel *reactor.Channel

	state atomic.Int32

	inputBuffer  *Buffer
	outputBuffer *Buffer

	connectionCB    ConnectionCallback
	messageCB       MessageCallback
	closeCB         CloseCallback
	writeCompleteCB WriteCompleteCallback
}

// NewConnection wraps an already-accepted, non-blocking fd. The connection
// starts in StateConnecting; ConnectEstablished (run on loop) transitions it
// to StateConnected and enables reads.
func NewConnection(loop *reactor.Loop, name string, fd int, localAddr, peerAddr string) *Connection {
	c := &Connection{
		name:         name,
		loop:         loop,
		fd:           fd,
		localAddr:    localAddr,
		peerAddr:     peerAddr,
		inputBuffer:  NewBuffer(),
		outputBuffer: NewBuffer(),
	}
	c.state.Store(int32(StateConnecting))
	c.channel = reactor.NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetErrorCallback(c.handleErrorOrHangup)
	return c
}

func (c *Connection) Name() string      { return c.name }
func (c *Connection) Fd() int           { return c.fd }
func (c *Connection) LocalAddr() string { return c.localAddr }
func (c *Connection) PeerAddr() string  { return c.peerAddr }
func (c *Connection) Loop() *reactor.Loop { return c.loop }
func (c *Connection) State() State      { return State(c.state.Load()) }

func (c *Connection) SetMessageCallback(cb MessageCallback)             { c.messageCB = cb }
func (c *Connection) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCB = cb }
func (c *Connection) SetCloseCallback(cb CloseCallback)                 { c.closeCB = cb }
func (c *Connection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCB = cb }

// ConnectEstablished runs once on the owning reactor right after the
// connection is registered with its StreamServer.
func (c *Connection) ConnectEstablished() {
	c.state.Store(int32(StateConnected))
	c.channel.EnableReading()
	if c.connectionCB != nil {
		c.connectionCB(c)
	}
}

// ConnectDestroyed runs on the owning reactor after the StreamServer has
// removed the connection from its map; it is the final teardown step and
// closes the fd once the channel is off the poller.
// Invariant: once Disconnected, no callback runs again for this connection.
func (c *Connection) ConnectDestroyed() {
	if c.State() == StateConnected {
		c.state.Store(int32(StateDisconnected))
		c.channel.DisableAll()
	}
	c.channel.Remove()
	unix.Close(c.fd)
}

func (c *Connection) handleRead() {
	n, err := c.inputBuffer.ReadFd(c.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		log.Printf("[conn %s] read error: %v", c.name, err)
		c.handleErrorOrHangup()
		return
	}
	if n == 0 {
		c.handleClose()
		return
	}
	c.parseFrames()
}

// parseFrames consumes as many complete length-prefixed frames as the input
// buffer currently holds. An out-of-range length is a protocol violation:
// the connection closes before any further bytes — including the rest of
// the current input buffer — are handled.
func (c *Connection) parseFrames() {
	for {
		if c.inputBuffer.ReadableBytes() < 4 {
			return
		}
		length := int(int32(c.inputBuffer.PeekUint32()))
		if length < 0 || length > MaxFrameLength {
			log.Printf("[conn %s] protocol violation: frame length %d out of range", c.name, length)
			c.handleClose()
			return
		}
		if c.inputBuffer.ReadableBytes() < 4+length {
			return
		}
		c.inputBuffer.Retrieve(4)
		frame := make([]byte, length)
		copy(frame, c.inputBuffer.Peek()[:length])
		c.inputBuffer.Retrieve(length)

		if c.messageCB != nil {
			c.messageCB(c, frame)
		}
	}
}

// handleErrorOrHangup backs the Channel's single error callback, which fires
// for both a hang-up-without-read condition and a raw socket error (§4.2).
// Either way the connection cannot continue, so it proceeds straight to
// close (§7: peer-initiated close/reset/broken pipe all end in Disconnected).
func (c *Connection) handleErrorOrHangup() {
	c.handleClose()
}

func (c *Connection) handleClose() {
	if c.State() == StateDisconnected {
		return
	}
	c.state.Store(int32(StateDisconnected))
	c.channel.DisableAll()
	if c.connectionCB != nil {
		c.connectionCB(c)
	}
	if c.closeCB != nil {
		c.closeCB(c)
	}
}

// Send is safe to call from any thread. If the caller is not on the owning
// reactor, it copies data and posts a task.
func (c *Connection) Send(data []byte) {
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	cp := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(cp) })
}

// SendFramed length-prefixes payload using the Buffer's prepend-reserve
// trick (§4.11) — the 4-byte length is back-written into the reserve ahead
// of payload rather than built via a separate allocate-and-copy — then
// sends the framed result the same way Send does.
func (c *Connection) SendFramed(payload []byte) {
	buf := NewBuffer()
	buf.Append(payload)
	buf.PrependUint32(uint32(len(payload)))
	c.Send(buf.Peek())
}

func (c *Connection) sendInLoop(data []byte) {
	switch c.State() {
	case StateDisconnected:
		log.Printf("[conn %s] send on disconnected connection, dropping", c.name)
		return
	case StateConnecting:
		log.Printf("[conn %s] send before connection established, dropping", c.name)
		return
	}
	// StateDisconnecting still falls through: a half-closed-for-write
	// peer hasn't happened yet (that's deferred to shutdownInLoop once
	// the output buffer drains), so queued sends must still go out.

	wrote := 0
	if c.outputBuffer.ReadableBytes() == 0 && !c.channel.IsWriting() {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				if isFaultError(err) {
					log.Printf("[conn %s] send fault: %v", c.name, err)
					c.outputBuffer.RetrieveAll()
					c.handleClose()
					return
				}
				log.Printf("[conn %s] send error: %v", c.name, err)
			}
		} else {
			wrote = n
			if wrote == len(data) && c.writeCompleteCB != nil {
				cb := c.writeCompleteCB
				c.loop.QueueInLoop(func() { cb(c) })
			}
		}
	}

	if wrote < len(data) {
		c.outputBuffer.Append(data[wrote:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

func (c *Connection) handleWrite() {
	if !c.channel.IsWriting() {
		return
	}
	n, err := unix.Write(c.fd, c.outputBuffer.Peek())
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if isFaultError(err) {
			log.Printf("[conn %s] write fault: %v", c.name, err)
			c.outputBuffer.RetrieveAll()
			c.handleClose()
			return
		}
		log.Printf("[conn %s] write error: %v", c.name, err)
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCB != nil {
			c.writeCompleteCB(c)
		}
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func isFaultError(err error) bool {
	return err == unix.EPIPE || err == unix.ECONNRESET
}

// Shutdown is idempotent and asynchronous: it marks the connection
// Disconnecting; the actual half-close is deferred until the output buffer
// has fully drained (see handleWrite).
func (c *Connection) Shutdown() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *Connection) shutdownInLoop() {
	if !c.channel.IsWriting() {
		if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil {
			log.Printf("[conn %s] shutdown write: %v", c.name, err)
		}
	}
}
