package concurrency

import (
	"context"
	"sync"
)

// PriorityGate lets order placement preempt background polling. Placement
// paths Enter/Leave around their exchange calls; polling loops Wait before
// each round and proceed only while no placement is in flight.
type PriorityGate struct {
	mu   sync.Mutex
	held int
	idle chan struct{} // closed while held == 0
}

// NewPriorityGate creates an open gate
func NewPriorityGate() *PriorityGate {
	idle := make(chan struct{})
	close(idle)
	return &PriorityGate{idle: idle}
}

// Enter raises the gate. Calls may nest; the gate stays raised until every
// Enter has a matching Leave.
func (g *PriorityGate) Enter() {
	g.mu.Lock()
	if g.held == 0 {
		g.idle = make(chan struct{})
	}
	g.held++
	g.mu.Unlock()
}

// Leave lowers one level of the gate
func (g *PriorityGate) Leave() {
	g.mu.Lock()
	if g.held > 0 {
		g.held--
		if g.held == 0 {
			close(g.idle)
		}
	}
	g.mu.Unlock()
}

// Wait blocks until the gate is open or ctx is done
func (g *PriorityGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		ch := g.idle
		g.mu.Unlock()

		select {
		case <-ch:
			g.mu.Lock()
			open := g.held == 0
			g.mu.Unlock()
			if open {
				return nil
			}
			// Raised again between the close and our re-check; wait on the
			// fresh channel.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
