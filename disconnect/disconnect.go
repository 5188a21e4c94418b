// Package disconnect reports whether the client behind an in-flight request
// has gone away. A Monitor is polled, never cached: every call reflects the
// state at that moment.
package disconnect

import (
	"context"
	"net/http"
	"sync/atomic"
)

// Monitor is a non-blocking probe of a client connection.
type Monitor interface {
	Disconnected() bool
}

// Func adapts a function to a Monitor.
type Func func() bool

func (f Func) Disconnected() bool { return f() }

// FromContext reports the client as disconnected once ctx is done.
func FromContext(ctx context.Context) Monitor {
	return Func(func() bool { return ctx.Err() != nil })
}

// FromRequest monitors the connection behind r. net/http cancels a request's
// context when the client closes its connection.
func FromRequest(r *http.Request) Monitor {
	return FromContext(r.Context())
}

// Never returns a Monitor that always reports a live connection.
func Never() Monitor {
	return Func(func() bool { return false })
}

// Countdown is a deterministic Monitor that reports a live connection for a
// fixed number of polls and a disconnected one afterwards.
type Countdown struct {
	live  int64
	polls atomic.Int64
}

// AfterPolls returns a Countdown whose first n polls report a live
// connection.
func AfterPolls(n int) *Countdown {
	return &Countdown{live: int64(n)}
}

// Disconnected records a poll and reports whether the budget of live polls is
// spent.
func (c *Countdown) Disconnected() bool {
	return c.polls.Add(1) > c.live
}

// Polls returns the number of times Disconnected has been called.
func (c *Countdown) Polls() int {
	return int(c.polls.Load())
}
