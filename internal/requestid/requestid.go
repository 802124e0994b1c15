// Package requestid provides request ID propagation via context.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Logger returns a child logger carrying the context's request ID, so every
// log line within a turn can be correlated back to the originating request.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	return logger.With().Str("request_id", FromContext(ctx)).Logger()
}
