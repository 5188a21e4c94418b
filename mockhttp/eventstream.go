package mockhttp

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mockstream-go/internal/logctx"
	"github.com/ggoodman/mockstream-go/internal/pacing"
)

var (
	_ http.Handler = (*EventStreamHandler)(nil)
)

const endOfStreaming = "End of streaming"

// EventStreamHandler serves numbered text/event-stream events on GET /, one
// per interval, followed by an end marker.
type EventStreamHandler struct {
	log      *slog.Logger
	interval time.Duration
	chunks   int
	mux      *http.ServeMux
}

// NewEventStreamHandler returns an EventStreamHandler. By default it emits
// five chunks one second apart.
func NewEventStreamHandler(opts ...Option) *EventStreamHandler {
	cfg := newConfig(opts)

	h := &EventStreamHandler{
		log:      logctx.Wrap(cfg.logger),
		interval: cfg.interval,
		chunks:   cfg.chunks,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleGetEvents)
	mux.HandleFunc("OPTIONS /{$}", handlePreflight("GET, OPTIONS"))
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics)
	}
	h.mux = mux

	return h
}

// ServeHTTP implements http.Handler.
func (h *EventStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serve(h.log, h.mux, w, r)
}

// handleGetEvents handles GET /.
func (h *EventStreamHandler) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	setCORSHeaders(w, "GET, OPTIONS")

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "text/event-stream is not acceptable")
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	for i := 1; i <= h.chunks; i++ {
		if err := writeEvent(wf, fmt.Sprintf("Chunk %d", i)); err != nil {
			h.log.InfoContext(ctx, "sse.client.gone", slog.Int("chunk", i), slog.String("err", err.Error()))
			return
		}
		if err := pacing.Sleep(ctx, h.interval); err != nil {
			h.log.InfoContext(ctx, "sse.client.gone", slog.Int("chunk", i), slog.String("err", err.Error()))
			return
		}
	}
	if err := writeEvent(wf, endOfStreaming); err != nil {
		h.log.InfoContext(ctx, "sse.client.gone", slog.String("err", err.Error()))
		return
	}

	h.log.InfoContext(ctx, "sse.stream.end", slog.Int("chunks", h.chunks), slog.Duration("dur", time.Since(start)))
}

// writeEvent writes one data line and flushes it. Each event is a single
// "data: ...\n" line.
func writeEvent(wf *lockedWriteFlusher, data string) error {
	if _, err := fmt.Fprintf(wf, "data: %s\n", data); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	wf.Flush()
	return nil
}
