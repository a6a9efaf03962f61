// Package observability provides logging and metrics for framecast.
package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/framecast/internal/config"
)

// Attribute keys shared by every framecast log line.
const (
	AttrComponent = "component"
	AttrWindowID  = "window_id"
	AttrRequestID = "request_id"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
)

// NewLogger builds a logger writing cfg.Format records to w. Unknown formats
// fall back to JSON.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	if cfg.TimeFormat != "" {
		layout := cfg.TimeFormat
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 || a.Key != slog.TimeKey {
				return a
			}
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(layout))
			}
			return a
		}
	}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewDiscardLogger returns a logger that drops every record.
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent tags a logger with the subsystem emitting records.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(AttrComponent, component))
}

// WithWindow scopes a logger to one captured window.
func WithWindow(logger *slog.Logger, windowID string) *slog.Logger {
	return logger.With(slog.String(AttrWindowID, windowID))
}

// WithRequestID scopes a logger to one API request.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	if requestID == "" {
		return logger
	}
	return logger.With(slog.String(AttrRequestID, requestID))
}

// ContextWithLogger stores a request-scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored by ContextWithLogger, or the
// default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithRequestID stores the API request ID.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the API request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperationWithError logs the start of operation and returns a func that
// logs its outcome and duration. *errPtr is read when that func runs, so it
// is meant to be deferred against a named error result.
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		attrs := []slog.Attr{
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if errPtr != nil && *errPtr != nil {
			attrs = append(attrs, slog.String("error", (*errPtr).Error()))
			logger.LogAttrs(ctx, slog.LevelError, "operation failed", attrs...)
			return
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "operation completed", attrs...)
	}
}
