// Package log holds the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup binds the global logger on first call and ignores later calls.
// Levels use slog names (debug, info, warn, error); anything unparseable
// logs at info. Format "text" selects logfmt-style output, everything else JSON.
func Setup(level, format string) {
	once.Do(func() {
		logger = newLogger(os.Stdout, level, format)
		slog.SetDefault(logger)
	})
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Get returns the global logger, binding JSON at info if Setup was never called.
func Get() *slog.Logger {
	Setup("info", "json")
	return logger
}

// WithComponent tags records with the emitting subsystem.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}
