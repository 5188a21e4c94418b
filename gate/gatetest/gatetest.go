// Package gatetest holds a conformance suite that every gate.Gate
// implementation is expected to pass.
package gatetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mockstream-go/gate"
)

// GateFactory creates a new, unheld Gate for one test.
type GateFactory func(t *testing.T) gate.Gate

// RunGateTests runs the complete Gate test suite against the provided factory.
func RunGateTests(t *testing.T, factory GateFactory) {
	t.Run("Acquire_HeldUntilReleased", func(t *testing.T) { testHeldUntilReleased(t, factory) })
	t.Run("Acquire_BlocksWhileHeld", func(t *testing.T) { testBlocksWhileHeld(t, factory) })
	t.Run("Acquire_CancelledWaiterLeavesGateFree", func(t *testing.T) { testCancelledWaiter(t, factory) })
	t.Run("Acquire_MutualExclusion", func(t *testing.T) { testMutualExclusion(t, factory) })
	t.Run("Release_IsIdempotent", func(t *testing.T) { testReleaseIdempotent(t, factory) })
	t.Run("AcquireWithin_TimesOut", func(t *testing.T) { testAcquireWithin(t, factory) })
}

func mustHeld(t *testing.T, g gate.Gate, want bool) {
	t.Helper()
	got, err := g.Held(context.Background())
	if err != nil {
		t.Fatalf("held: %v", err)
	}
	if got != want {
		t.Fatalf("unexpected held state: want %v got %v", want, got)
	}
}

func testHeldUntilReleased(t *testing.T, factory GateFactory) {
	g := factory(t)
	mustHeld(t, g, false)

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mustHeld(t, g, true)

	release()
	mustHeld(t, g, false)
}

func testBlocksWhileHeld(t *testing.T, factory GateFactory) {
	g := factory(t)

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan gate.Release, 1)
	go func() {
		r, err := g.Acquire(context.Background())
		if err != nil {
			t.Errorf("second acquire: %v", err)
			close(acquired)
			return
		}
		acquired <- r
	}()

	select {
	case <-acquired:
		t.Fatalf("second acquire succeeded while gate was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case r, ok := <-acquired:
		if !ok {
			return
		}
		mustHeld(t, g, true)
		r()
	case <-time.After(5 * time.Second):
		t.Fatalf("second acquire did not proceed after release")
	}
	mustHeld(t, g, false)
}

func testCancelledWaiter(t *testing.T, factory GateFactory) {
	g := factory(t)

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	release()
	mustHeld(t, g, false)

	r, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after cancelled waiter: %v", err)
	}
	r()
}

func testMutualExclusion(t *testing.T, factory GateFactory) {
	g := factory(t)

	const workers = 8
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer release()

			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if got := peak.Load(); got != 1 {
		t.Fatalf("expected at most one holder at a time, observed %d", got)
	}
	mustHeld(t, g, false)
}

func testReleaseIdempotent(t *testing.T, factory GateFactory) {
	g := factory(t)

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()
	mustHeld(t, g, false)

	first, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx); err == nil {
		t.Fatalf("double release granted two holders")
	}
}

func testAcquireWithin(t *testing.T, factory GateFactory) {
	g := factory(t)

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if _, err := gate.AcquireWithin(context.Background(), g, 30*time.Millisecond); !errors.Is(err, gate.ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gate.AcquireWithin(ctx, g, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for a cancelled caller, got %v", err)
	}
}
