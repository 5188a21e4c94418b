package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

type watchConfig struct {
	log *slog.Logger
}

// WithWatchLogger sets the logger used by Watch.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(c *watchConfig) { c.log = l }
}

// Watch reloads the file at path whenever it changes and passes each valid
// result to fn. Invalid files are logged and skipped. The directory is
// watched rather than the file so editors that replace the file on save keep
// working. Watch blocks until ctx ends.
func Watch(ctx context.Context, path string, fn func(*Config), opts ...WatchOption) error {
	cfg := &watchConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	cfg.log.InfoContext(ctx, "config.watch.start", slog.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			next, err := LoadFile(abs)
			if err != nil {
				cfg.log.WarnContext(ctx, "config.reload.fail", slog.String("err", err.Error()))
				continue
			}
			cfg.log.InfoContext(ctx, "config.reload.ok", slog.Duration("chunk_delay", next.ChunkDelay))
			fn(next)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			cfg.log.DebugContext(ctx, "config.watch.error", slog.String("err", err.Error()))
		}
	}
}
