// README: Cancellable per-trip match countdowns.
package matching

import (
	"sync"
	"time"

	"ridecore/internal/types"
)

// DefaultMatchTimeout is how long a REQUESTED trip waits for a driver.
const DefaultMatchTimeout = 60 * time.Second

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Timeouts runs at most one countdown per trip id. Scheduling again replaces the previous countdown.
type Timeouts struct {
	mu      sync.Mutex
	pending map[types.ID]*pending
	gen     uint64
}

func NewTimeouts() *Timeouts {
	return &Timeouts{pending: make(map[types.ID]*pending)}
}

func (t *Timeouts) Schedule(id types.ID, after time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[id]; ok {
		p.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.pending[id] = &pending{
		gen: gen,
		timer: time.AfterFunc(after, func() {
			if !t.take(id, gen) {
				return
			}
			fn()
		}),
	}
}

// Cancel stops the countdown for id. It reports whether one was pending.
func (t *Timeouts) Cancel(id types.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(t.pending, id)
	return true
}

func (t *Timeouts) Pending(id types.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

func (t *Timeouts) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels every pending countdown.
func (t *Timeouts) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, id)
	}
}

func (t *Timeouts) take(id types.ID, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok || p.gen != gen {
		return false
	}
	delete(t.pending, id)
	return true
}
