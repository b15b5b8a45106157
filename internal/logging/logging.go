// Package logging owns the process-wide slog logger. Components that are
// not handed a logger explicitly log through L().
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var global atomic.Pointer[slog.Logger]

func init() {
	global.Store(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// L returns the current global logger.
func L() *slog.Logger { return global.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		global.Store(l)
	}
}

// Setup builds a logger from the config strings and installs it globally.
// Unknown formats fall back to text, unknown levels to info; a nil writer
// means stderr.
func Setup(format, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	global.Store(l)
	return l
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
