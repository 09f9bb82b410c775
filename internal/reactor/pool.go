package reactor

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Pool is a fixed set of worker reactors, started eagerly, handed out in
// round-robin order. An empty pool (size 0) is the degenerate single-reactor
// mode: NextLoop returns nil and callers are expected to fall back to
// whatever reactor they already own.
type Pool struct {
	loops []*Loop
	next  atomic.Uint64
}

// StartPool constructs n worker reactors named "<namePrefix>-<i>" and starts
// each on its own goroutine (pinned to its own OS thread once Run begins).
// It blocks until every worker has entered its loop so NextLoop never hands
// out a reactor that hasn't started yet.
func StartPool(n int, namePrefix string) (*Pool, error) {
	p := &Pool{}
	for i := 0; i < n; i++ {
		loop, err := NewLoop(fmt.Sprintf("%s-%d", namePrefix, i))
		if err != nil {
			p.Stop()
			return nil, errors.Wrapf(err, "start worker %d", i)
		}
		p.loops = append(p.loops, loop)
		go loop.Run()
	}
	for _, loop := range p.loops {
		<-loop.started
	}
	return p, nil
}

// NextLoop returns the next worker in round-robin order, or nil if the pool
// is empty.
func (p *Pool) NextLoop() *Loop {
	if len(p.loops) == 0 {
		return nil
	}
	idx := p.next.Add(1) - 1
	return p.loops[idx%uint64(len(p.loops))]
}

// Loops returns the pool's workers, for diagnostics.
func (p *Pool) Loops() []*Loop {
	out := make([]*Loop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Stop requests every worker's loop quit. It does not wait for them to
// return; callers that need synchronous shutdown should track that
// separately (e.g. a sync.WaitGroup around each Run call).
func (p *Pool) Stop() {
	for _, l := range p.loops {
		l.Quit()
	}
}
