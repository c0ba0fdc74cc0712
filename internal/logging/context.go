package logging

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	artifactKey
)

// WithCorrelationID tags ctx with a correlation identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithArtifact tags ctx with the store path being processed.
func WithArtifact(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, artifactKey, path)
}

// ContextFields extracts standardized slog attributes from ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if id, ok := ctx.Value(correlationIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	if path, ok := ctx.Value(artifactKey).(string); ok && path != "" {
		fields = append(fields, slog.String(FieldArtifact, path))
	}
	return fields
}

// WithContext returns logger augmented with fields derived from ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
