// Package log wires log/slog to the append-only invocation log. When no log
// file is configured every call is a no-op: a compiler shim must not invent
// output. Each process tags its lines with a short invocation id so lines
// from hundreds of concurrent ccrelay processes can be told apart.
package log

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// New returns a logger appending to logFile, or a discard logger when the
// path is empty or unwritable. An unwritable log path must never break a
// compile, so it degrades to silence.
func New(logFile string) *slog.Logger {
	if logFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id := uuid.NewString()[:8]
	return slog.New(slog.NewTextHandler(f, nil)).With(slog.String("inv", id))
}

// Setup initializes the process-global logger once.
func Setup(logFile string) {
	once.Do(func() {
		logger = New(logFile)
		slog.SetDefault(logger)
	})
}

// Get returns the configured logger, or a discard logger if Setup hasn't run.
func Get() *slog.Logger {
	if logger == nil {
		Setup("")
	}
	return logger
}

// WithComponent returns the global logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}
