package scrape

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Governor is the counting admission gate for outbound fetches. A worker may
// not begin its network activity until a slot is acquired; the slot is held
// for the worker's whole life, including backoff sleeps, so at most Capacity
// identifiers are ever in flight.
type Governor struct {
	sem      *semaphore.Weighted
	capacity int
}

// NewGovernor builds a gate admitting up to capacity concurrent workers.
func NewGovernor(capacity int) *Governor {
	if capacity <= 0 {
		capacity = 1
	}
	return &Governor{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Acquire blocks until a slot frees up or the context is cancelled.
func (g *Governor) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release returns a slot to the gate.
func (g *Governor) Release() {
	g.sem.Release(1)
}

// Capacity reports the configured slot count.
func (g *Governor) Capacity() int {
	return g.capacity
}
