// Package logtest routes slog output through testing.TB so log lines show up
// next to the test that produced them.
package logtest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ggoodman/mockstream-go/internal/logctx"
)

// bridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type bridge struct {
	slog.Handler
	t    testing.TB
	buf  *bytes.Buffer
	mu   *sync.Mutex
	done *bool
}

// Handle implements slog.Handler.
func (b *bridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// t.Log panics once the test has finished; late server logs are dropped.
	if *b.done {
		return nil
	}

	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}

	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}

	// The output comes back with a newline, which we need to
	// trim before feeding to t.Log.
	output = bytes.TrimSuffix(output, []byte("\n"))

	b.t.Helper()
	b.t.Log(string(output))
	return nil
}

// WithAttrs implements slog.Handler.
func (b *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bridge{t: b.t, buf: b.buf, mu: b.mu, done: b.done, Handler: b.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (b *bridge) WithGroup(name string) slog.Handler {
	return &bridge{t: b.t, buf: b.buf, mu: b.mu, done: b.done, Handler: b.Handler.WithGroup(name)}
}

// Logger returns a debug-level logger that writes through t.Log and carries
// the context groups added by logctx.
func Logger(t testing.TB) *slog.Logger {
	buf := &bytes.Buffer{}
	b := &bridge{
		t:       t,
		buf:     buf,
		mu:      &sync.Mutex{},
		done:    new(bool),
		Handler: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	t.Cleanup(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		*b.done = true
	})
	return logctx.Wrap(slog.New(b))
}
