package logging

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

type requestIDKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithRequestID tags the context logger with a request_id attribute. A
// context already tagged with the same id is returned unchanged, so the
// attribute appears once per log line.
func WithRequestID(ctx context.Context, id string) context.Context {
	if RequestID(ctx) == id {
		return ctx
	}
	ctx = context.WithValue(ctx, requestIDKey{}, id)
	return WithLogger(ctx, FromContext(ctx).With("request_id", id))
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
