// Package debuglog writes structured diagnostics to an append-only log in
// the state dir. Hook invocations run inside the host's event pipeline, so
// nothing here ever writes to stdout or stderr.
package debuglog

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Logger wraps slog with the verbosity mapping used across the CLI
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// levelFor maps the numeric debug_level setting to a slog threshold.
// 0 logs only errors; 3 logs everything.
func levelFor(debugLevel int) slog.Level {
	switch debugLevel {
	case 0:
		return slog.LevelError
	case 1:
		return slog.LevelWarn
	case 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Open creates a logger appending JSON lines to path. Any failure to open
// the file degrades to a discard logger; diagnostics are never worth
// failing an invocation over.
func Open(path string, debugLevel int) *Logger {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return discard()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return discard()
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: levelFor(debugLevel)})
	return &Logger{Logger: slog.New(handler), closer: f}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return discard()
}

func discard() *Logger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return &Logger{Logger: slog.New(handler)}
}

// Close releases the underlying log file
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Injection records what a hook put into the conversation and how long the
// whole invocation took.
func (l *Logger) Injection(event, sessionID string, lessons, handoffs, bytes int, elapsed time.Duration) {
	l.Info("injection",
		"event", event,
		"session_id", sessionID,
		"lessons", lessons,
		"handoffs", handoffs,
		"bytes", bytes,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// Degraded records a hook swallowing an error and emitting an empty payload
func (l *Logger) Degraded(event string, err error) {
	l.Error("degraded", "event", event, "error", err.Error())
}
