package ledger

import (
	"context"
	"sync"
)

// Gate is the single-holder mutual exclusion over the account book.
// Commands suspend mid-flight on collaborator I/O, so two executions can
// be in flight at once; the gate guarantees at most one of them is inside
// a read-modify-write sequence, and that waiters are served in FIFO order.
type Gate struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func NewGate() *Gate { return &Gate{} }

// Acquire blocks until the caller holds the gate or ctx expires. Callers
// bound the wait with their context; exhaustion is a recoverable error.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.held {
		g.held = true
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range g.waiters {
			if w == ch {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// Ownership was already handed to us; pass it along.
		g.Release()
		return ctx.Err()
	}
}

// Release hands the gate to the oldest waiter, or clears the held state
// when nobody is queued. Releasing an unheld gate is a caller bug.
func (g *Gate) Release() {
	g.mu.Lock()
	if !g.held {
		g.mu.Unlock()
		panic("ledger: gate released without holder")
	}
	if len(g.waiters) > 0 {
		ch := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(ch)
		return
	}
	g.held = false
	g.mu.Unlock()
}

// QueueLen reports the number of blocked waiters (metrics only).
func (g *Gate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}
