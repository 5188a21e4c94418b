// Package gate provides the single-flight gate that serializes request
// handling. A Gate grants exclusive ownership to one holder at a time; every
// streaming and non-streaming request acquires the same Gate, so their
// critical sections never overlap.
//
// Implementations live in subpackages: memorygate for a single process and
// redisgate for several processes sharing one lock. Noop grants immediately
// and is meant for exercising components in isolation.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAcquireTimeout is returned by AcquireWithin when the bound elapses
	// before ownership is granted.
	ErrAcquireTimeout = errors.New("gate: acquisition timed out")
	// ErrUnavailable wraps failures of the backing store of a Gate.
	ErrUnavailable = errors.New("gate: backend unavailable")
)

// Release returns ownership of a Gate. Only the first call has an effect.
type Release func()

// Gate is a process-wide mutual exclusion primitive.
type Gate interface {
	// Acquire blocks until ownership is granted or ctx ends. On success the
	// caller must invoke the returned Release exactly once, on every exit
	// path.
	Acquire(ctx context.Context) (Release, error)

	// Held reports whether some caller currently owns the Gate.
	Held(ctx context.Context) (bool, error)
}

// ReleaseOnce wraps fn so that repeated calls run it only once.
func ReleaseOnce(fn func()) Release {
	var once sync.Once
	return func() { once.Do(fn) }
}

// AcquireWithin acquires g, giving up with ErrAcquireTimeout once d has
// elapsed. A non-positive d waits without bound.
func AcquireWithin(ctx context.Context, g Gate, d time.Duration) (Release, error) {
	if d <= 0 {
		return g.Acquire(ctx)
	}
	actx, cancel := context.WithTimeoutCause(ctx, d, ErrAcquireTimeout)
	defer cancel()

	release, err := g.Acquire(actx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(actx), ErrAcquireTimeout) {
			return nil, ErrAcquireTimeout
		}
		return nil, err
	}
	return release, nil
}

type noop struct{}

// Noop returns a Gate that grants every acquisition immediately and never
// reports itself held.
func Noop() Gate { return noop{} }

func (noop) Acquire(ctx context.Context) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func (noop) Held(context.Context) (bool, error) { return false, nil }
