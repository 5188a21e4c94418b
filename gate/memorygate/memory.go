// Package memorygate provides a process-local gate.Gate backed by a weighted
// semaphore of size one. Waiters are granted ownership in arrival order and a
// waiter whose context ends is removed from the queue without consuming a
// grant.
//
// Example:
//
//	g := memorygate.New()
//	release, err := g.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer release()
package memorygate

import (
	"context"
	"sync/atomic"

	"github.com/ggoodman/mockstream-go/gate"
	"golang.org/x/sync/semaphore"
)

// Gate is an in-memory single-flight gate. The zero value is not usable; use
// New.
type Gate struct {
	sem  *semaphore.Weighted
	held atomic.Bool
}

// New returns an unheld Gate.
func New() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the gate is free or ctx ends.
func (g *Gate) Acquire(ctx context.Context) (gate.Release, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.held.Store(true)
	return gate.ReleaseOnce(func() {
		g.held.Store(false)
		g.sem.Release(1)
	}), nil
}

// Held reports whether the gate is currently owned.
func (g *Gate) Held(context.Context) (bool, error) {
	return g.held.Load(), nil
}

var _ gate.Gate = (*Gate)(nil)
