package logging

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

type loggerContextKey struct{}

var fallbackLogger atomic.Pointer[slog.Logger]

// SetFallback sets the logger returned by FromContext when the context carries none
func SetFallback(logger *slog.Logger) {
	fallbackLogger.Store(logger)
}

func fallback() *slog.Logger {
	if logger := fallbackLogger.Load(); logger != nil {
		return logger.With(slog.String("logger", "fallback"))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("logger", "fallback"))
}

func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return fallback()
	}
	return logger
}

func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

func AddMetaToContext(ctx context.Context, attrs ...slog.Attr) context.Context {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	return AddToContext(ctx, FromContext(ctx).With(args...))
}
