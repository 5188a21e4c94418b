package redisgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/mockstream-go/gate"
	"github.com/ggoodman/mockstream-go/gate/gatetest"
	"github.com/redis/go-redis/v9"
)

func newTestGate(t *testing.T, mr *miniredis.Miniredis, opts ...Option) *Gate {
	t.Helper()
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cl.Close() })
	opts = append([]Option{WithPollInterval(2 * time.Millisecond)}, opts...)
	return New(cl, opts...)
}

func TestRedisGate(t *testing.T) {
	gatetest.RunGateTests(t, func(t *testing.T) gate.Gate {
		return newTestGate(t, miniredis.RunT(t))
	})
}

func TestRedisGateSharedAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestGate(t, mr)
	b := newTestGate(t, mr)

	release, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	held, err := b.Held(context.Background())
	if err != nil {
		t.Fatalf("held: %v", err)
	}
	if !held {
		t.Fatalf("expected second client to observe the lease")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := b.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second client to wait, got %v", err)
	}

	release()
	rb, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	rb()
}

func TestRedisGateExpiredLeaseIsNotReleasedByFormerHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestGate(t, mr, WithLeaseTTL(time.Minute))
	b := newTestGate(t, mr, WithLeaseTTL(time.Minute))

	releaseA, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Expire a's lease as if its process had stalled.
	mr.FastForward(2 * time.Minute)

	releaseB, err := b.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	defer releaseB()

	releaseA()

	held, err := b.Held(context.Background())
	if err != nil {
		t.Fatalf("held: %v", err)
	}
	if !held {
		t.Fatalf("former holder released the current holder's lease")
	}
}

func TestRedisGateLeaseHasTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	g := newTestGate(t, mr, WithKey("custom:gate"), WithLeaseTTL(10*time.Second))

	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if !mr.Exists("custom:gate") {
		t.Fatalf("expected lease under custom key")
	}
	if ttl := mr.TTL("custom:gate"); ttl <= 0 || ttl > 10*time.Second {
		t.Fatalf("unexpected lease ttl %s", ttl)
	}
}

// cancelAfterSet lets SET reach the server, then cancels the caller and
// reports the cancellation as the command error.
type cancelAfterSet struct {
	cancel context.CancelFunc
}

func (h cancelAfterSet) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h cancelAfterSet) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if err := next(ctx, cmd); err != nil {
			return err
		}
		if name := cmd.Name(); name == "set" || name == "setnx" {
			h.cancel()
			cmd.SetErr(context.Canceled)
			return context.Canceled
		}
		return nil
	}
}

func (h cancelAfterSet) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisGateCanceledAcquireDropsLease(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cl.Close() })
	cl.AddHook(cancelAfterSet{cancel: cancel})
	g := New(cl, WithPollInterval(2*time.Millisecond))

	if _, err := g.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mr.Exists(defaultKey) {
		t.Fatalf("canceled acquire left its lease behind")
	}

	other := newTestGate(t, mr)
	release, err := other.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after canceled acquire: %v", err)
	}
	release()
}

func TestRedisGateBackendFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	g := newTestGate(t, mr)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := g.Acquire(ctx); !errors.Is(err, gate.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := g.Held(ctx); !errors.Is(err, gate.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from held, got %v", err)
	}
}

func TestRedisGateAgainstEnv(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis
	g, err := NewFromEnv(context.Background(), WithKey("mockstream:gatetest"))
	if err != nil {
		t.Skipf("skipping redis gate tests: %v", err)
		return
	}
	_ = g.Close()

	gatetest.RunGateTests(t, func(t *testing.T) gate.Gate {
		gg, err := NewFromEnv(context.Background(), WithKey("mockstream:gatetest"), WithPollInterval(2*time.Millisecond))
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		t.Cleanup(func() { _ = gg.Close() })
		return gg
	})
}
