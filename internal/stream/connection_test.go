package stream

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"echomesh/internal/reactor"
)

func newTestConnection(t *testing.T, loop *reactor.Loop) (*Connection, *os.File) {
	t.Helper()
	// A pair of connected stream sockets would need the socket package; for
	// the connection state machine itself a pipe pair stands in fine since
	// Connection only ever calls unix.Write/Readv on a plain fd.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	conn := NewConnection(loop, "test-conn", int(w.Fd()), "local", "peer")
	return conn, r
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConnectionEstablishedEnablesReadingAndFiresCallback(t *testing.T) {
	loop := newRunningLoop(t, "conn-established")

	established := make(chan struct{}, 1)
	conn, r := newTestConnection(t, loop)
	defer r.Close()
	conn.SetConnectionCallback(func(c *Connection) {
		if c.State() == StateConnected {
			established <- struct{}{}
		}
	})

	loop.RunInLoop(conn.ConnectEstablished)

	select {
	case <-established:
	case <-time.After(time.Second):
		t.Fatal("connection callback did not fire")
	}
	if conn.State() != StateConnected {
		t.Fatalf("expected Connected, got %v", conn.State())
	}
}

// Frame parsing against a real readable fd is exercised end-to-end in
// server_test.go, over actual connected sockets, since a pipe's two ends
// can't stand in for both the read and write side of one Connection at once.

func TestConnectionSendDeliversPayload(t *testing.T) {
	loop := newRunningLoop(t, "conn-send")
	conn, r := newTestConnection(t, loop)
	defer r.Close()
	loop.RunInLoop(conn.ConnectEstablished)

	payload := []byte("hello-world")
	conn.Send(payload)

	buf := make([]byte, len(payload))
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	waitFor(t, time.Second, func() bool { return n == len(payload) })
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("unexpected payload: %q", buf[:n])
	}
}

func TestConnectionSendFramedPrependsLength(t *testing.T) {
	loop := newRunningLoop(t, "conn-send-framed")
	conn, r := newTestConnection(t, loop)
	defer r.Close()
	loop.RunInLoop(conn.ConnectEstablished)

	payload := []byte("framed-payload")
	conn.SendFramed(payload)

	buf := make([]byte, 4+len(payload))
	waitFor(t, time.Second, func() bool {
		n, _ := r.Read(buf)
		return n == len(buf)
	})
	gotLen := binary.BigEndian.Uint32(buf[:4])
	if int(gotLen) != len(payload) {
		t.Fatalf("length prefix: got %d, want %d", gotLen, len(payload))
	}
	if !bytes.Equal(buf[4:], payload) {
		t.Fatalf("unexpected payload: %q", buf[4:])
	}
}

// A Disconnecting connection (Shutdown already called, output not yet
// drained) must still accept and deliver a queued Send — only Disconnected
// and pre-Connected states drop the data (with a log line).
func TestConnectionSendStillDeliversWhileDisconnecting(t *testing.T) {
	loop := newRunningLoop(t, "conn-send-disconnecting")
	conn, r := newTestConnection(t, loop)
	defer r.Close()
	loop.RunInLoop(conn.ConnectEstablished)
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected })

	conn.state.Store(int32(StateDisconnecting))

	payload := []byte("should-still-arrive")
	conn.Send(payload)

	buf := make([]byte, len(payload))
	waitFor(t, time.Second, func() bool {
		n, _ := r.Read(buf)
		return n == len(payload)
	})
	if !bytes.Equal(buf, payload) {
		t.Fatalf("unexpected payload: %q", buf)
	}
}

func TestConnectionShutdownIsIdempotent(t *testing.T) {
	loop := newRunningLoop(t, "conn-shutdown")
	conn, r := newTestConnection(t, loop)
	defer r.Close()
	loop.RunInLoop(conn.ConnectEstablished)
	waitFor(t, time.Second, func() bool { return conn.State() == StateConnected })

	conn.Shutdown()
	conn.Shutdown() // must not panic or double-transition
	waitFor(t, time.Second, func() bool { return conn.State() == StateDisconnecting })
}

func TestConnectionHandleCloseIsIdempotent(t *testing.T) {
	loop := newRunningLoop(t, "conn-close")
	conn, r := newTestConnection(t, loop)
	defer r.Close()

	closed := make(chan struct{}, 1)
	conn.SetCloseCallback(func(c *Connection) {
		select {
		case closed <- struct{}{}:
		default:
		}
	})

	loop.RunInLoop(func() {
		conn.handleClose()
		conn.handleClose() // second call must be a no-op
	})

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close callback never fired")
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("expected Disconnected, got %v", conn.State())
	}
}

func TestConnectionRejectsOversizeFrameLength(t *testing.T) {
	b := NewBuffer()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(MaxFrameLength+1))
	b.Append(lenBuf[:])

	loop := newRunningLoop(t, "conn-oversize")
	conn, r := newTestConnection(t, loop)
	defer r.Close()
	conn.inputBuffer = b

	closed := make(chan struct{}, 1)
	conn.SetCloseCallback(func(c *Connection) { closed <- struct{}{} })

	loop.RunInLoop(conn.parseFrames)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected connection to close on oversize frame length")
	}
}
