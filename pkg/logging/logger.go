// Package logging builds the structured loggers used across ctsegment.
//
// Loggers are plain *slog.Logger values writing to stderr, either as
// human-readable text (the CLI default) or as JSON lines:
//
//	logger := logging.New(logging.Config{Level: "debug", Service: "cli"})
//	logger.Info("segmentation finished", "foreground", n)
//
// Library packages accept a *slog.Logger and fall back to OrNop when none is
// given, so they stay silent unless the caller opts in.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects level, format and destination of a logger
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is "text" or "json"
	Format string

	// Service is attached to every record when non-empty
	Service string

	// Output defaults to os.Stderr
	Output io.Writer
}

// ParseLevel maps a level name onto slog levels
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New creates a logger from cfg
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Nop returns a logger that discards everything
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrNop returns l, or a discarding logger when l is nil
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}
