package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a structured stdout logger: JSON in production, text otherwise.
func New(environment, level string) *slog.Logger {
	return newWithWriter(os.Stdout, environment, level)
}

func newWithWriter(w io.Writer, environment, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if environment == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "hycredit")
}

func parseLevel(level string) slog.Level {
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
