package mockhttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mockstream-go/internal/logctx"
	"github.com/google/uuid"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	requestIDHeader  = "X-Request-Id"
	retryAfterHeader = "Retry-After"
)

// Option configures Handler and EventStreamHandler.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	metrics  http.Handler
	interval time.Duration
	chunks   int
}

// WithLogger sets the logger. Context data is attached automatically.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(c *config) { c.metrics = h }
}

// WithEventInterval sets the pause after each event of the event stream.
func WithEventInterval(d time.Duration) Option {
	return func(c *config) { c.interval = d }
}

// WithEventChunks sets how many numbered events precede the end marker.
func WithEventChunks(n int) Option {
	return func(c *config) { c.chunks = n }
}

func newConfig(opts []Option) *config {
	cfg := &config{logger: slog.Default(), interval: time.Second, chunks: 5}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// writeJSONError emits a minimal JSON body for HTTP-layer rejections.
// Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
// Safe to call after some headers are set but before the status is written.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "*")
}

func handlePreflight(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w, methods)
		w.Header().Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	}
}

// statusWriter records whether and with which status the response was
// committed.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		if s.status == 0 {
			s.status = http.StatusOK
		}
		f.Flush()
	}
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// serve dispatches r to next with request data in the context, the request
// id echoed back, and panics turned into 500s.
func serve(log *slog.Logger, next http.Handler, w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id := r.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  id,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	sw := &statusWriter{ResponseWriter: w}

	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			log.ErrorContext(ctx, "http.handler.panic", slog.Any("panic", p))
			if sw.status == 0 {
				writeJSONError(sw, http.StatusInternalServerError, "internal error")
			}
		}
		log.DebugContext(ctx, "http.request.done", slog.Int("status", sw.status), slog.Duration("dur", time.Since(start)))
	}()

	next.ServeHTTP(sw, r.WithContext(ctx))
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}
