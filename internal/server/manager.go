// Package server runs an http.Server with non-blocking start and graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Config for a Manager.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	// ShutdownTimeout bounds how long in-flight requests may drain. Once it
	// passes, remaining connections are closed.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the server settings used when nothing is overridden.
// There is no write timeout: streamed generations may run for minutes.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8008",
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Manager owns one http.Server.
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	log      *slog.Logger
	mu       sync.RWMutex
	closed   bool
}

// New returns a Manager serving handler. A nil logger means slog.Default().
func New(config Config, handler http.Handler, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           handler,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
			IdleTimeout:       config.IdleTimeout,
			MaxHeaderBytes:    config.MaxHeaderBytes,
			ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		},
		errCh:  make(chan error, 1),
		config: config,
		log:    log.With(slog.String("component", "http_server")),
	}
}

// Start listens on the configured address and serves in the background.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = listener
	m.log.Info("server.start", slog.String("addr", listener.Addr().String()))

	go m.serve(listener)
	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.log.Error("server.serve.fail", slog.String("err", err.Error()))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown stops accepting connections and waits for in-flight requests,
// up to ShutdownTimeout. Connections still open after that are closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.log.Info("server.shutdown.start")

	if m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}

	if err := m.server.Shutdown(ctx); err != nil {
		m.log.Warn("server.shutdown.forced", slog.String("err", err.Error()))
		_ = m.server.Close()
		return err
	}

	m.log.Info("server.shutdown.done")
	return nil
}

// WaitForShutdown blocks until SIGINT, SIGTERM, a serve failure or the end
// of ctx, then shuts the server down. It returns the serve failure, if any.
func (m *Manager) WaitForShutdown(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case sig := <-quit:
		m.log.Info("server.signal", slog.String("signal", sig.String()))
	case serveErr = <-m.Errors():
	case <-ctx.Done():
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.log.Error("server.shutdown.fail", slog.String("err", err.Error()))
	}
	return serveErr
}

// Errors returns asynchronous serve failures. At most one is delivered.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr returns the bound address once started, the configured one before.
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning reports whether Shutdown has not been called yet.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
