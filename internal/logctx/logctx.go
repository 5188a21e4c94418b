package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the request and generation data carried by
// the record's context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := RequestDataFrom(ctx); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if gd, ok := GenerationDataFrom(ctx); ok {
		r.AddAttrs(slog.Group("gen",
			slog.String("query", gd.Query),
			slog.Bool("stream", gd.Stream),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// Wrap returns l with its handler decorated by Handler. Wrapping an already
// wrapped logger is a no-op.
func Wrap(l *slog.Logger) *slog.Logger {
	if _, ok := l.Handler().(Handler); ok {
		return l
	}
	return slog.New(Handler{Handler: l.Handler()})
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

// RequestDataFrom returns the request data stored in ctx, if any.
func RequestDataFrom(ctx context.Context) (*RequestData, bool) {
	rd, ok := ctx.Value(requestDataKey{}).(*RequestData)
	return rd, ok
}

type generationDataKey struct{}

type GenerationData struct {
	Query  string
	Stream bool
}

func WithGenerationData(ctx context.Context, data *GenerationData) context.Context {
	return context.WithValue(ctx, generationDataKey{}, data)
}

func GenerationDataFrom(ctx context.Context) (*GenerationData, bool) {
	gd, ok := ctx.Value(generationDataKey{}).(*GenerationData)
	return gd, ok
}
