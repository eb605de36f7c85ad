// Package logging provides a minimal structured logging interface over slog
// so engine components depend on a small surface while callers plug any
// handler they like.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the minimal interface engine components log through.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New builds a slog-backed Logger. Format is "json" or "text".
func New(w io.Writer, format string, level slog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

// WithSession returns a logger with the session key attached to every entry.
func WithSession(l Logger, sessionKey string) Logger {
	if sl, ok := l.(*slog.Logger); ok {
		return sl.With("session_key", sessionKey)
	}
	return l
}

// NoOp discards all log messages. Useful in tests.
type NoOp struct{}

func (NoOp) Debug(string, ...any) {}
func (NoOp) Info(string, ...any)  {}
func (NoOp) Warn(string, ...any)  {}
func (NoOp) Error(string, ...any) {}
