package generation

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mockstream-go/internal/pacing"
)

// DefaultLength is the number of random characters appended to the query.
const DefaultLength = 250

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// Item is one element of a generation sequence. A Partial item carries the
// next slice of the output; the Final item carries all of it.
type Item struct {
	Text     string
	Complete bool
}

// IsFinal reports whether the item is the terminal, complete item.
func (it Item) IsFinal() bool { return it.Complete }

type state int

const (
	statePending state = iota
	stateFinal
	stateDone
)

// Option configures a Generator.
type Option func(*config)

type config struct {
	delay   time.Duration
	length  int
	rnd     *rand.Rand
	cleanup func()
	logger  *slog.Logger
}

// WithDelay sets the pause taken before each Partial item is returned.
// Negative values are treated as zero.
func WithDelay(d time.Duration) Option {
	return func(c *config) { c.delay = max(d, 0) }
}

// WithLength sets the number of random characters appended to the query.
// Negative values are treated as zero.
func WithLength(n int) Option {
	return func(c *config) { c.length = max(n, 0) }
}

// WithRand sets the random source used to build the output. A Generator does
// not synchronize access to it.
func WithRand(r *rand.Rand) Option {
	return func(c *config) { c.rnd = r }
}

// WithCleanup registers a function run exactly once when the Generator is
// exhausted or closed, whichever happens first.
func WithCleanup(fn func()) Option {
	return func(c *config) { c.cleanup = fn }
}

// WithLogger sets the logger used for per-step debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Generator lazily yields growing slices of a synthetic output string. It is
// not safe for concurrent use.
type Generator struct {
	query string
	text  []rune

	// cursor is the number of runes already emitted as partials; rest counts
	// the partial steps still to come.
	cursor int
	rest   int
	state  state

	delay   time.Duration
	log     *slog.Logger
	cleanup func()
	once    sync.Once
}

// Text builds a synthetic output for query: the query, a colon and newline,
// then length random lowercase letters. A nil rnd uses the global source.
func Text(query string, length int, rnd *rand.Rand) string {
	var b strings.Builder
	b.Grow(len(query) + 2 + length)
	b.WriteString(query)
	b.WriteString(":\n")
	for range length {
		var i int
		if rnd != nil {
			i = rnd.IntN(len(alphabet))
		} else {
			i = rand.IntN(len(alphabet))
		}
		b.WriteByte(alphabet[i])
	}
	return b.String()
}

// New returns a Generator for query. Each call builds a fresh random output.
func New(query string, opts ...Option) *Generator {
	cfg := &config{length: DefaultLength, logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	text := []rune(Text(query, cfg.length, cfg.rnd))
	return &Generator{
		query:   query,
		text:    text,
		rest:    len(text) - 1,
		delay:   cfg.delay,
		log:     cfg.logger,
		cleanup: cfg.cleanup,
	}
}

// Output returns the complete output the Generator will eventually yield.
func (g *Generator) Output() string { return string(g.text) }

// Remaining returns the number of Partial items not yet produced.
func (g *Generator) Remaining() int { return max(g.rest, 0) }

// Next advances the Generator by one step. It returns a Partial item while
// steps remain, then the Final item, then io.EOF. If ctx ends while Next is
// pacing, the context error is returned and the Generator should be closed.
func (g *Generator) Next(ctx context.Context) (Item, error) {
	switch g.state {
	case stateFinal, stateDone:
		g.state = stateDone
		g.finish(ctx)
		return Item{}, io.EOF
	}

	if err := ctx.Err(); err != nil {
		return Item{}, err
	}

	if g.rest < 1 {
		g.state = stateFinal
		g.log.DebugContext(ctx, "generate.complete", slog.Int("len", len(g.text)))
		return Item{Text: string(g.text), Complete: true}, nil
	}

	end := len(g.text) - g.rest
	var partial []rune
	if g.cursor < end {
		partial = g.text[g.cursor:end]
	}
	g.cursor += len(partial)
	g.rest--

	if err := pacing.Sleep(ctx, g.delay); err != nil {
		return Item{}, err
	}

	g.log.DebugContext(ctx, "generate.partial", slog.Int("rest", g.rest), slog.Int("len", len(partial)))
	return Item{Text: string(partial)}, nil
}

// Close stops the Generator and runs its cleanup if that has not happened
// yet. It is safe to call more than once.
func (g *Generator) Close() error {
	g.state = stateDone
	g.finish(context.Background())
	return nil
}

func (g *Generator) finish(ctx context.Context) {
	g.once.Do(func() {
		g.log.DebugContext(ctx, "generate.finish", slog.Int("rest", max(g.rest, 0)))
		if g.cleanup != nil {
			g.cleanup()
		}
	})
}
