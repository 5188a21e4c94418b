package mockhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/mockstream-go/coordinator"
	"github.com/ggoodman/mockstream-go/disconnect"
	"github.com/ggoodman/mockstream-go/gate"
	"github.com/ggoodman/mockstream-go/internal/logctx"
)

var (
	_ http.Handler = (*Handler)(nil)
)

var (
	ErrQueryMissing  = errors.New("missing required query parameter: query")
	ErrStreamInvalid = errors.New("invalid value for query parameter: stream")
)

// Handler serves the generation mock and its operational endpoints.
type Handler struct {
	coord *coordinator.Coordinator
	log   *slog.Logger
	mux   *http.ServeMux
}

// New returns a Handler that runs generations through coord.
func New(coord *coordinator.Coordinator, opts ...Option) *Handler {
	cfg := newConfig(opts)

	h := &Handler{coord: coord, log: logctx.Wrap(cfg.logger)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /test", h.handleGetTest)
	mux.HandleFunc("OPTIONS /test", handlePreflight("GET, OPTIONS"))
	mux.HandleFunc("GET /healthz", h.handleGetHealthz)
	mux.HandleFunc("GET /schema", h.handleGetSchema)
	if cfg.metrics != nil {
		mux.Handle("GET /metrics", cfg.metrics)
	}
	h.mux = mux

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serve(h.log, h.mux, w, r)
}

// parseParams reads query and stream. stream accepts the usual boolean
// spellings, case-insensitively.
func parseParams(r *http.Request) (coordinator.Params, error) {
	q := r.URL.Query()
	if !q.Has("query") {
		return coordinator.Params{}, ErrQueryMissing
	}
	p := coordinator.Params{Query: q.Get("query")}

	if !q.Has("stream") {
		return p, nil
	}
	switch strings.ToLower(q.Get("stream")) {
	case "true", "1", "yes", "on", "t", "y":
		p.Stream = true
	case "false", "0", "no", "off", "f", "n":
		p.Stream = false
	default:
		return coordinator.Params{}, ErrStreamInvalid
	}
	return p, nil
}

// handleGetTest handles GET /test.
func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	setCORSHeaders(w, "GET, OPTIONS")

	p, err := parseParams(r)
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		h.log.InfoContext(ctx, "http.params.invalid", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithGenerationData(ctx, &logctx.GenerationData{Query: p.Query, Stream: p.Stream})
	h.log.InfoContext(ctx, "generate.start")

	if !p.Stream {
		res, err := h.coord.Complete(ctx, p, disconnect.FromRequest(r))
		if err != nil {
			h.writeCoordinatorError(ctx, w, err)
			return
		}
		if res.Aborted {
			h.log.InfoContext(ctx, "generate.aborted", slog.Duration("dur", time.Since(start)))
		}
		if err := writeJSON(w, http.StatusOK, res); err != nil {
			h.log.DebugContext(ctx, "response.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "generate.done", slog.Duration("dur", time.Since(start)))
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "stream.flusher.missing")
		return
	}

	fw := &frameWriter{w: w, wf: &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}}
	if err := h.coord.Stream(ctx, p, fw); err != nil {
		if !fw.opened {
			h.writeCoordinatorError(ctx, w, err)
			return
		}
		if ctx.Err() != nil {
			h.log.InfoContext(ctx, "stream.client.gone", slog.Int("frames", fw.frames), slog.Duration("dur", time.Since(start)))
			return
		}
		h.log.ErrorContext(ctx, "stream.fail", slog.Int("frames", fw.frames), slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "stream.done", slog.Int("frames", fw.frames), slog.Duration("dur", time.Since(start)))
}

// writeCoordinatorError maps an error returned before any body was written.
func (h *Handler) writeCoordinatorError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrAcquireTimeout):
		w.Header().Set(retryAfterHeader, "1")
		writeJSONError(w, http.StatusServiceUnavailable, "generation in progress, try again")
		h.log.WarnContext(ctx, "gate.acquire.timeout")
	case errors.Is(err, gate.ErrUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "generation gate unavailable")
		h.log.ErrorContext(ctx, "gate.acquire.fail", slog.String("err", err.Error()))
	case ctx.Err() != nil:
		// Nobody is listening.
		h.log.InfoContext(ctx, "generate.client.gone", slog.String("err", err.Error()))
	default:
		writeJSONError(w, http.StatusInternalServerError, "generation failed")
		h.log.ErrorContext(ctx, "generate.fail", slog.String("err", err.Error()))
	}
}

// frameWriter commits the response on Open and flushes after every frame.
type frameWriter struct {
	w      http.ResponseWriter
	wf     *lockedWriteFlusher
	opened bool
	frames int
}

func (f *frameWriter) Open() error {
	// Frames are not a registered media type; suppress sniffing.
	f.w.Header()["Content-Type"] = nil
	f.w.Header().Set("Cache-Control", "no-cache")
	f.w.WriteHeader(http.StatusOK)
	f.opened = true
	f.wf.Flush()
	return nil
}

func (f *frameWriter) WriteFrame(frame []byte) error {
	if _, err := f.wf.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	f.wf.Flush()
	f.frames++
	return nil
}

type healthz struct {
	Status   string `json:"status"`
	GateHeld bool   `json:"gate_held"`
}

// handleGetHealthz handles GET /healthz.
func (h *Handler) handleGetHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	held, err := h.coord.Held(ctx)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "generation gate unavailable")
		h.log.WarnContext(ctx, "healthz.gate.fail", slog.String("err", err.Error()))
		return
	}
	_ = writeJSON(w, http.StatusOK, healthz{Status: "ok", GateHeld: held})
}

// handleGetSchema handles GET /schema.
func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "GET")
	if err := writeJSON(w, http.StatusOK, coordinator.Schemas()); err != nil {
		h.log.DebugContext(r.Context(), "response.write.fail", slog.String("err", err.Error()))
	}
}
