// Package logging builds the process-wide slog logger.
//
// Two formats are supported: "json" writes slog JSON records for machine
// consumption, "text" writes colored human-readable lines through
// charmbracelet/log, which implements slog.Handler.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

// Formats lists the accepted log formats
var Formats = []string{"text", "json"}

// ParseLevel converts a level name to a slog level.
// Unknown names fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New creates a logger writing to w in the given format
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl := ParseLevel(level)

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(newCharmLogger(w, lvl)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (expected one of %s)", format, strings.Join(Formats, ", "))
	}
}

// Setup creates a logger and installs it as the slog default
func Setup(level, format string, w io.Writer) (*slog.Logger, error) {
	logger, err := New(level, format, w)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// newCharmLogger creates a text logger with short timestamps
func newCharmLogger(w io.Writer, level slog.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           log.Level(level),
	})
}

type ctxKey int

const loggerKey ctxKey = 0

// WithLogger attaches a logger to ctx
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger attached to ctx, or slog.Default()
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
