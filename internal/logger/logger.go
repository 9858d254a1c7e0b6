// Package logger wraps log/slog for the Kino backend.
//
// One logger is built at startup from config (format + level) and handed
// down through the request context, so handlers deep in the call tree can
// log without threading a *slog.Logger parameter everywhere:
//
//	log := logger.New(cfg.LogFormat, cfg.LogLevel)
//	ctx := logger.WithContext(r.Context(), log)
//	...
//	logger.FromContext(ctx).Warn("upload aborted", "reason", err)
package logger

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

// New builds a *slog.Logger writing to stdout.
//
// format: "json" (default) or "pretty" (text, for local development).
// level:  "debug", "info" (default), "warn", "error".
func New(format, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl, AddSource: true}

	if format == "pretty" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// WithContext returns a context carrying l.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger carried by ctx, or slog.Default()
// when none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
