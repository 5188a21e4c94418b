// Command mocksse serves a plain, time-paced text/event-stream on GET /.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/ggoodman/mockstream-go/config"
	"github.com/ggoodman/mockstream-go/internal/logctx"
	"github.com/ggoodman/mockstream-go/internal/server"
	"github.com/ggoodman/mockstream-go/mockhttp"
)

func main() {
	if err := run(); err != nil {
		slog.Error("mocksse.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logctx.Wrap(cfg.Logger(os.Stderr))
	slog.SetDefault(log)

	h := mockhttp.NewEventStreamHandler(
		mockhttp.WithLogger(log),
		mockhttp.WithEventInterval(cfg.SSEInterval),
		mockhttp.WithEventChunks(cfg.SSEChunks),
	)

	scfg := server.DefaultConfig()
	scfg.Addr = cfg.SSEAddr
	scfg.ShutdownTimeout = cfg.ShutdownTimeout
	m := server.New(scfg, h, log)
	if err := m.Start(); err != nil {
		return err
	}
	log.Info("mocksse.ready",
		slog.String("addr", m.Addr()),
		slog.Duration("interval", cfg.SSEInterval),
		slog.Int("chunks", cfg.SSEChunks),
	)

	return m.WaitForShutdown(context.Background())
}
