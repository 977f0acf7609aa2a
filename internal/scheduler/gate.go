package scheduler

import "sync"

// gate is the global pause switch. Open means downloads may proceed; an
// open gate is represented by a closed channel so waiters return
// immediately. Closing the gate swaps in a fresh channel that waiters
// block on until Open closes it.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

// Open releases all waiters. Idempotent.
func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
	default:
		close(g.ch)
	}
}

// Close blocks future waiters. Idempotent.
func (g *gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
	default:
	}
}

// IsOpen reports the current state without blocking.
func (g *gate) IsOpen() bool {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or stop closes. It returns false when
// stop closed first.
func (g *gate) Wait(stop <-chan struct{}) bool {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-stop:
		return false
	}
}
