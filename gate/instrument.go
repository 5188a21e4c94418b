package gate

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives gate lifecycle measurements.
type Observer interface {
	// GateAcquired is called after every acquisition attempt with the time
	// spent waiting and the attempt's error, if any.
	GateAcquired(wait time.Duration, err error)
	// GateReleased is called once per successful acquisition with the time
	// the gate was held.
	GateReleased(hold time.Duration)
}

// InstrumentOption configures Instrument.
type InstrumentOption func(*instrumented)

// WithObserver sets the Observer notified of acquisitions and releases.
func WithObserver(o Observer) InstrumentOption {
	return func(i *instrumented) { i.obs = o }
}

// WithLogger sets the logger used for gate lifecycle events.
func WithLogger(l *slog.Logger) InstrumentOption {
	return func(i *instrumented) { i.log = l }
}

type instrumented struct {
	Gate
	obs Observer
	log *slog.Logger
	now func() time.Time
}

// Instrument wraps g so that acquisitions and releases are logged and
// reported to an Observer.
func Instrument(g Gate, opts ...InstrumentOption) Gate {
	i := &instrumented{Gate: g, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *instrumented) Acquire(ctx context.Context) (Release, error) {
	start := i.now()
	i.log.DebugContext(ctx, "gate.acquire.wait")

	release, err := i.Gate.Acquire(ctx)
	wait := i.now().Sub(start)
	if i.obs != nil {
		i.obs.GateAcquired(wait, err)
	}
	if err != nil {
		i.log.InfoContext(ctx, "gate.acquire.fail", slog.Duration("wait", wait), slog.String("err", err.Error()))
		return nil, err
	}
	i.log.InfoContext(ctx, "gate.acquire.ok", slog.Duration("wait", wait))

	held := i.now()
	return ReleaseOnce(func() {
		release()
		hold := i.now().Sub(held)
		if i.obs != nil {
			i.obs.GateReleased(hold)
		}
		i.log.InfoContext(ctx, "gate.release", slog.Duration("hold", hold))
	}), nil
}
