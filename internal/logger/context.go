package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	callIDKey contextKey = "call_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context. When none is attached,
// fallback is returned, or a no-op logger if fallback is nil.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return OrNop(fallback)
}

// WithCallID tags the context and its logger with a call ID.
func WithCallID(ctx context.Context, logger *zap.Logger, callID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, callIDKey, callID)
	enriched := OrNop(logger).With(zap.String("call_id", callID))
	return WithContext(ctx, enriched), enriched
}

// CallID returns the call ID stored in ctx, if any.
func CallID(ctx context.Context) string {
	if id, ok := ctx.Value(callIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTrace adds trace and span IDs from the span in ctx to the logger.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
