package redisgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mockstream-go/gate"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKey          = "mockstream:gate"
	defaultLeaseTTL     = 30 * time.Second
	defaultPollInterval = 25 * time.Millisecond
	releaseTimeout      = 5 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Config for a Redis-backed Gate. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Key holding the lease. ENV: MOCKSTREAM_REDIS_KEY
	Key string `env:"MOCKSTREAM_REDIS_KEY,default=mockstream:gate"`
	// LeaseTTL bounds how long a crashed holder can block others. ENV: MOCKSTREAM_REDIS_LEASE_TTL
	LeaseTTL time.Duration `env:"MOCKSTREAM_REDIS_LEASE_TTL,default=30s"`
}

// Option configures a Gate.
type Option func(*Gate)

// WithKey sets the Redis key holding the lease.
func WithKey(key string) Option {
	return func(g *Gate) {
		if key != "" {
			g.key = key
		}
	}
}

// WithLeaseTTL sets the lease duration. The lease is renewed while held.
func WithLeaseTTL(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// WithPollInterval sets how often a waiter retries while the gate is held.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.poll = d
		}
	}
}

// WithLogger sets the logger used for lease maintenance problems.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// Gate is a single-flight gate stored in Redis.
type Gate struct {
	client redis.UniversalClient
	owned  bool
	key    string
	ttl    time.Duration
	poll   time.Duration
	log    *slog.Logger
}

// New returns a Gate using client. The caller keeps ownership of client.
func New(client redis.UniversalClient, opts ...Option) *Gate {
	g := &Gate{
		client: client,
		key:    defaultKey,
		ttl:    defaultLeaseTTL,
		poll:   defaultPollInterval,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dial connects to Redis using cfg and returns a Gate that owns the
// connection. Close releases it.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Gate, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	opts = append([]Option{WithKey(cfg.Key), WithLeaseTTL(cfg.LeaseTTL)}, opts...)
	g := New(cl, opts...)
	g.owned = true
	return g, nil
}

// NewFromEnv builds a Gate using envdecode to populate Config.
func NewFromEnv(ctx context.Context, opts ...Option) (*Gate, error) {
	var cfg Config
	// Use envdecode; defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return Dial(ctx, cfg, opts...)
}

// Close closes the Redis client if the Gate created it.
func (g *Gate) Close() error {
	if !g.owned {
		return nil
	}
	return g.client.Close()
}

// Acquire polls until the lease key can be created or ctx ends.
func (g *Gate) Acquire(ctx context.Context) (gate.Release, error) {
	token := uuid.NewString()

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}

		ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// The SET may have landed before the cancellation was noticed.
				if _, err := g.releaseToken(ctx, token); err != nil {
					g.log.WarnContext(ctx, "gate.redis.release.fail", slog.String("err", err.Error()))
				}
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: acquire: %v", gate.ErrUnavailable, err)
		}
		if ok {
			break
		}
		t.Reset(g.poll)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.renew(token, stop)
	}()

	return gate.ReleaseOnce(func() {
		close(stop)
		wg.Wait()

		released, err := g.releaseToken(ctx, token)
		if err != nil {
			g.log.ErrorContext(ctx, "gate.redis.release.fail", slog.String("err", err.Error()))
			return
		}
		if !released {
			g.log.WarnContext(ctx, "gate.redis.release.lost", slog.String("key", g.key))
		}
	}), nil
}

// releaseToken deletes the lease if token still owns it and reports whether
// it did. It runs even when ctx is already done.
func (g *Gate) releaseToken(ctx context.Context, token string) (bool, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	n, err := releaseScript.Run(rctx, g.client, []string{g.key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// renew extends the lease until stop is closed or ownership is lost.
func (g *Gate) renew(token string, stop <-chan struct{}) {
	interval := g.ttl / 3
	if interval <= 0 {
		interval = g.ttl
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := renewScript.Run(ctx, g.client, []string{g.key}, token, g.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			g.log.Warn("gate.redis.renew.fail", slog.String("err", err.Error()))
			continue
		}
		if n == 0 {
			g.log.Warn("gate.redis.renew.lost", slog.String("key", g.key))
			return
		}
	}
}

// Held reports whether the lease key exists.
func (g *Gate) Held(ctx context.Context) (bool, error) {
	n, err := g.client.Exists(ctx, g.key).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		return false, fmt.Errorf("%w: held: %v", gate.ErrUnavailable, err)
	}
	return n == 1, nil
}

var _ gate.Gate = (*Gate)(nil)
