// Package coordinator drives a Generator under the single-flight gate and
// renders its output in one of two shapes: a stream of NUL-terminated JSON
// frames, or a single JSON object once generation finishes.
//
// The Coordinator is transport independent. Streaming output goes to a
// FrameWriter; the non-streaming path polls a disconnect.Monitor once per
// generation step and answers with an aborted Response when the client is
// gone. In both paths the gate is released and the Generator closed on every
// exit.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/mockstream-go/disconnect"
	"github.com/ggoodman/mockstream-go/gate"
	"github.com/ggoodman/mockstream-go/generation"
)

const (
	ModeStream   = "stream"
	ModeComplete = "complete"

	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeFailed    = "failed"
)

// Params are the inputs of one generation request.
type Params struct {
	Query  string
	Stream bool
}

// FrameWriter receives the frames of a streaming reply.
type FrameWriter interface {
	// Open is called once, after the gate is acquired and before the
	// first frame.
	Open() error
	// WriteFrame writes one encoded frame, delimiter included.
	WriteFrame(frame []byte) error
}

// DelaySource supplies the pacing delay for new generations.
type DelaySource interface {
	Load() time.Duration
}

type fixedDelay time.Duration

func (d fixedDelay) Load() time.Duration { return time.Duration(d) }

// Observer receives per-request measurements.
type Observer interface {
	RequestFinished(mode, outcome string, dur time.Duration)
	FrameWritten(kind string)
	StepConsumed()
}

type nopObserver struct{}

func (nopObserver) RequestFinished(string, string, time.Duration) {}
func (nopObserver) FrameWritten(string)                           {}
func (nopObserver) StepConsumed()                                 {}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDelay sets a fixed pacing delay between generation steps.
func WithDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.delay = fixedDelay(d) }
}

// WithDelaySource reads the pacing delay from src each time a generation
// starts.
func WithDelaySource(src DelaySource) Option {
	return func(c *Coordinator) { c.delay = src }
}

// WithLength sets the number of random characters each generation appends.
func WithLength(n int) Option {
	return func(c *Coordinator) { c.length = n }
}

// WithAcquireTimeout bounds the wait for the gate. Zero waits indefinitely.
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.acquireTimeout = d }
}

// WithGeneratorOptions appends options applied to every Generator.
func WithGeneratorOptions(opts ...generation.Option) Option {
	return func(c *Coordinator) { c.genOpts = append(c.genOpts, opts...) }
}

// WithObserver sets the Observer notified of request outcomes.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.obs = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// source yields the items of one generation. *generation.Generator is the
// only production implementation.
type source interface {
	Next(ctx context.Context) (generation.Item, error)
	Close() error
}

// Coordinator serializes generation requests through a gate.
type Coordinator struct {
	gate           gate.Gate
	newSource      func(query string) source
	delay          DelaySource
	length         int
	acquireTimeout time.Duration
	genOpts        []generation.Option
	obs            Observer
	log            *slog.Logger
}

// New returns a Coordinator that admits one request at a time through g.
func New(g gate.Gate, opts ...Option) (*Coordinator, error) {
	if g == nil {
		return nil, fmt.Errorf("gate is required")
	}
	c := &Coordinator{
		gate:   g,
		delay:  fixedDelay(0),
		length: generation.DefaultLength,
		obs:    nopObserver{},
		log:    slog.Default(),
	}
	c.newSource = c.newGenerator
	for _, opt := range opts {
		opt(c)
	}
	if c.length < 0 {
		return nil, fmt.Errorf("length must not be negative, got %d", c.length)
	}
	return c, nil
}

// Held reports whether a request currently holds the gate.
func (c *Coordinator) Held(ctx context.Context) (bool, error) {
	return c.gate.Held(ctx)
}

func (c *Coordinator) newGenerator(query string) source {
	opts := []generation.Option{
		generation.WithDelay(c.delay.Load()),
		generation.WithLength(c.length),
		generation.WithLogger(c.log),
	}
	return generation.New(query, append(opts, c.genOpts...)...)
}

// Stream acquires the gate and writes one frame per non-empty generated item
// to w. Partial items become bare JSON strings and the final item becomes a
// FinalFrame. Stream returns when the generation is drained, when ctx ends,
// or when w fails.
func (c *Coordinator) Stream(ctx context.Context, p Params, w FrameWriter) (err error) {
	start := time.Now()
	outcome := OutcomeFailed
	defer func() {
		if err != nil && ctx.Err() != nil {
			outcome = OutcomeAborted
		}
		c.obs.RequestFinished(ModeStream, outcome, time.Since(start))
	}()

	release, err := gate.AcquireWithin(ctx, c.gate, c.acquireTimeout)
	if err != nil {
		return err
	}
	defer release()

	gen := c.newSource(p.Query)
	defer gen.Close()

	if err := w.Open(); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	for {
		it, err := gen.Next(ctx)
		if errors.Is(err, io.EOF) {
			outcome = OutcomeCompleted
			return nil
		}
		if err != nil {
			return err
		}
		c.obs.StepConsumed()

		var frame []byte
		kind := "partial"
		switch {
		case it.IsFinal():
			kind = "final"
			frame, err = EncodeFinalFrame(it.Text)
		case it.Text == "":
			continue
		default:
			frame, err = EncodePartialFrame(it.Text)
		}
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}

		if err := w.WriteFrame(frame); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
		c.obs.FrameWritten(kind)
	}
}

// Complete acquires the gate, drives the generation to its end and returns
// the final text. The monitor is polled after every item; once it reports a
// disconnection Complete stops immediately and returns Aborted.
func (c *Coordinator) Complete(ctx context.Context, p Params, mon disconnect.Monitor) (res *Response, err error) {
	start := time.Now()
	outcome := OutcomeFailed
	defer func() {
		c.obs.RequestFinished(ModeComplete, outcome, time.Since(start))
	}()

	release, err := gate.AcquireWithin(ctx, c.gate, c.acquireTimeout)
	if err != nil {
		if mon.Disconnected() {
			outcome = OutcomeAborted
			return Aborted(), nil
		}
		return nil, err
	}
	defer release()

	gen := c.newSource(p.Query)
	defer gen.Close()

	var last generation.Item
	for {
		it, err := gen.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if mon.Disconnected() {
				c.log.DebugContext(ctx, "complete.canceled")
				outcome = OutcomeAborted
				return Aborted(), nil
			}
			return nil, err
		}
		c.obs.StepConsumed()

		if mon.Disconnected() {
			c.log.DebugContext(ctx, "complete.canceled")
			outcome = OutcomeAborted
			return Aborted(), nil
		}
		last = it
	}

	outcome = OutcomeCompleted
	return &Response{Response: last.Text, Complete: true}, nil
}
