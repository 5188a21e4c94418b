// Command mockstream serves the cancellation and streaming generation mock on
// GET /test.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ggoodman/mockstream-go/config"
	"github.com/ggoodman/mockstream-go/coordinator"
	"github.com/ggoodman/mockstream-go/gate"
	"github.com/ggoodman/mockstream-go/gate/memorygate"
	"github.com/ggoodman/mockstream-go/gate/redisgate"
	"github.com/ggoodman/mockstream-go/internal/logctx"
	"github.com/ggoodman/mockstream-go/internal/metrics"
	"github.com/ggoodman/mockstream-go/internal/server"
	"github.com/ggoodman/mockstream-go/mockhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mockstream.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logctx.Wrap(cfg.Logger(os.Stderr))
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col := metrics.New("mockstream", reg)

	var g gate.Gate
	switch cfg.GateBackend {
	case config.GateRedis:
		rg, err := redisgate.Dial(ctx, redisgate.Config{
			RedisAddr: cfg.RedisAddr,
			Key:       cfg.RedisKey,
			LeaseTTL:  cfg.RedisLeaseTTL,
		}, redisgate.WithLogger(log))
		if err != nil {
			return fmt.Errorf("redis gate: %w", err)
		}
		defer rg.Close()
		g = rg
	default:
		g = memorygate.New()
	}
	g = gate.Instrument(g, gate.WithObserver(col), gate.WithLogger(log))

	delay := config.NewDelay(cfg.ChunkDelay)
	coord, err := coordinator.New(g,
		coordinator.WithDelaySource(delay),
		coordinator.WithLength(cfg.OutputLength),
		coordinator.WithAcquireTimeout(cfg.GateAcquireTimeout),
		coordinator.WithObserver(col),
		coordinator.WithLogger(log),
	)
	if err != nil {
		return err
	}

	if path := os.Getenv(config.FileEnv); path != "" {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				delay.Store(next.ChunkDelay)
			}, config.WithWatchLogger(log))
			if err != nil {
				log.Warn("config.watch.fail", slog.String("err", err.Error()))
			}
		}()
	}

	h := mockhttp.New(coord,
		mockhttp.WithLogger(log),
		mockhttp.WithMetricsHandler(metrics.Handler(reg)),
	)

	scfg := server.DefaultConfig()
	scfg.Addr = cfg.Addr
	scfg.ShutdownTimeout = cfg.ShutdownTimeout
	m := server.New(scfg, h, log)
	if err := m.Start(); err != nil {
		return err
	}
	log.Info("mockstream.ready",
		slog.String("addr", m.Addr()),
		slog.String("gate", cfg.GateBackend),
		slog.Duration("chunk_delay", cfg.ChunkDelay),
		slog.Int("output_length", cfg.OutputLength),
	)

	return m.WaitForShutdown(ctx)
}
