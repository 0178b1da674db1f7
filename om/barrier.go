package om

import (
	"context"

	"github.com/canopy-network/generals/lib"
	"golang.org/x/sync/semaphore"
)

// Barrier is an all-to-all rendezvous built from one counting semaphore per general
type Barrier struct {
	n    int
	sems []*semaphore.Weighted
}

// NewBarrier() creates n semaphores of weight n-1, each drained so it blocks until its owner arrives
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n, sems: make([]*semaphore.Weighted, n)}
	for i := range b.sems {
		b.sems[i] = semaphore.NewWeighted(int64(n - 1))
		b.sems[i].TryAcquire(int64(n - 1))
	}
	return b
}

// Wait() releases id's semaphore once for every other general then acquires every other semaphore once.
// Nobody returns before all n generals have called Wait.
func (b *Barrier) Wait(ctx context.Context, id int) lib.ErrorI {
	b.sems[id].Release(int64(b.n - 1))
	for i, s := range b.sems {
		if i == id {
			continue
		}
		if err := s.Acquire(ctx, 1); err != nil {
			return ErrContextDone(err)
		}
	}
	return nil
}
