package reactor

import (
	"os"
	"testing"
)

func TestPollerAddModifyRemove(t *testing.T) {
	p, err := newPoller()
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	defer p.close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	// A bare Channel not bound to a running Loop is fine here: poller
	// add/modify/remove only touch c.fd and the poller's own map, never
	// c.loop.
	ch := &Channel{fd: int(r.Fd())}

	if err := p.add(ch, EventRead); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := p.channels[ch.fd]; !ok {
		t.Fatal("channel not tracked after add")
	}

	if _, err := w.Write([]byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}

	results := p.poll(1000)
	if len(results) != 1 {
		t.Fatalf("expected 1 ready channel, got %d", len(results))
	}
	if results[0].Channel != ch {
		t.Fatal("poll returned wrong channel")
	}
	if results[0].Revents&EventRead == 0 {
		t.Fatal("expected EventRead in revents")
	}

	if err := p.modify(ch, EventRead|EventWrite); err != nil {
		t.Fatalf("modify: %v", err)
	}

	if err := p.remove(ch); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := p.channels[ch.fd]; ok {
		t.Fatal("channel still tracked after remove")
	}
}

func TestPollerTimeoutReturnsEmpty(t *testing.T) {
	p, err := newPoller()
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	defer p.close()

	results := p.poll(50)
	if len(results) != 0 {
		t.Fatalf("expected no ready channels on timeout, got %d", len(results))
	}
}

func TestPollerGrowsEventBufferWhenFull(t *testing.T) {
	p, err := newPoller()
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	defer p.close()

	// Shrink the return buffer to force a grow on the very first poll that
	// has more ready fds than capacity.
	p.events = p.events[:1]

	const n = 3
	var pipes [n][2]*os.File
	for i := 0; i < n; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("pipe %d: %v", i, err)
		}
		defer r.Close()
		defer w.Close()
		pipes[i] = [2]*os.File{r, w}
		ch := &Channel{fd: int(r.Fd())}
		if err := p.add(ch, EventRead); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if _, err := w.Write([]byte("x")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	before := len(p.events)
	results := p.poll(1000)
	if len(results) == 0 {
		t.Fatal("expected ready channels")
	}
	if len(p.events) <= before {
		t.Fatalf("expected event buffer to grow past %d, got %d", before, len(p.events))
	}
}
