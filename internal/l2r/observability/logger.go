// Package observability configures logging for l2r.
//
// Application code logs through log/slog. mautrix logs through zerolog, so
// Zerolog builds a logger at the same level and format for the Matrix
// client.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bdobrica/l2r/common/redact"
	"github.com/bdobrica/l2r/common/trace"
)

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a slog logger writing to w (e.g. level="info", format="json").
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup configures the global slog logger on stdout.
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// Zerolog returns a zerolog logger for the Matrix client at the same level.
// Text format uses the console writer.
func Zerolog(w io.Writer, level, format string) zerolog.Logger {
	var zl zerolog.Level
	switch parseLevel(level) {
	case slog.LevelDebug:
		zl = zerolog.DebugLevel
	case slog.LevelWarn:
		zl = zerolog.WarnLevel
	case slog.LevelError:
		zl = zerolog.ErrorLevel
	default:
		zl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	return zerolog.New(w).Level(zl).With().Timestamp().Str("component", "mautrix").Logger()
}

// WithTrace returns a child logger that always includes the trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return slog.Default()
	}
	return slog.With("trace_id", traceID)
}

// RedactSecrets replaces known-sensitive values in a log message with "[REDACTED]".
func RedactSecrets(msg string, sensitiveValues ...string) string {
	return redact.String(msg, sensitiveValues...)
}
