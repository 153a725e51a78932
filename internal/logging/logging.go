// Package logging sets up the structured logger shared by the gateway,
// relay node, and directory processes.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LevelFromEnv parses NEGY_LOG ("debug", "info", "warn", "error"), the
// repository's equivalent of RUST_LOG, defaulting to info on anything
// unrecognised or unset.
func LevelFromEnv() slog.Level {
	return ParseLevel(os.Getenv("NEGY_LOG"))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// New builds a logger that writes text records to stderr at level, and, if
// logFilePath is non-empty, also writes JSON records to that file at debug
// level regardless of level. Returns the logger and the opened file (nil if
// logFilePath was empty) so the caller can close it on shutdown.
func New(level slog.Level, logFilePath string) (*slog.Logger, *os.File, error) {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	if logFilePath == "" {
		return slog.New(stderrHandler), nil, nil
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stderrHandler}}), f, nil
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
