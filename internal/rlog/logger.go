// Package rlog is the process-wide structured logger used by every other
// package. It wraps log/slog the same way the upstream agent runners in
// this lineage have always done: a package-level handler that defaults to
// silent, and a couple of printf-style helpers so call sites don't have to
// build slog.Attr lists for a one-line message.
package rlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

var logger *slog.Logger
var currentWriter io.Writer = os.Stdout
var currentLevel = slog.Level(1000) // disabled until SetLevel is called

func init() {
	logger = slog.New(slog.NewTextHandler(currentWriter, &slog.HandlerOptions{Level: currentLevel}))
}

// Info logs an info message, optionally printf-formatted.
func Info(format string, args ...any) {
	if len(args) > 0 {
		logger.Info(fmt.Sprintf(format, args...))
	} else {
		logger.Info(format)
	}
}

// InfoWith logs an info message with structured key/value attributes.
func InfoWith(msg string, attrs ...any) { logger.Info(msg, attrs...) }

// Debug logs a debug message, optionally printf-formatted.
func Debug(format string, args ...any) {
	if len(args) > 0 {
		logger.Debug(fmt.Sprintf(format, args...))
	} else {
		logger.Debug(format)
	}
}

// DebugWith logs a debug message with structured key/value attributes.
func DebugWith(msg string, attrs ...any) { logger.Debug(msg, attrs...) }

// Warn logs a warning message, optionally printf-formatted.
func Warn(format string, args ...any) {
	if len(args) > 0 {
		logger.Warn(fmt.Sprintf(format, args...))
	} else {
		logger.Warn(format)
	}
}

// WarnWith logs a warning message with structured key/value attributes.
func WarnWith(msg string, attrs ...any) { logger.Warn(msg, attrs...) }

// Error logs an error message, optionally printf-formatted.
func Error(format string, args ...any) {
	if len(args) > 0 {
		logger.Error(fmt.Sprintf(format, args...))
	} else {
		logger.Error(format)
	}
}

// ErrorWith logs an error message with structured key/value attributes.
func ErrorWith(msg string, attrs ...any) { logger.Error(msg, attrs...) }

// SetLevel changes the minimum level that reaches the writer.
func SetLevel(level slog.Level) {
	currentLevel = level
	logger = slog.New(slog.NewTextHandler(currentWriter, &slog.HandlerOptions{Level: currentLevel}))
}

// SetWriter redirects log output, keeping the current level.
func SetWriter(w io.Writer) {
	currentWriter = w
	logger = slog.New(slog.NewTextHandler(currentWriter, &slog.HandlerOptions{Level: currentLevel}))
}

// Timer tracks elapsed wall-clock time for a named operation.
type Timer struct {
	start time.Time
	name  string
}

// StartTimer begins timing an operation.
func StartTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// LogElapsed logs the elapsed duration with any extra attributes.
func (t *Timer) LogElapsed(attrs ...any) {
	elapsed := time.Since(t.start)
	all := append([]any{"operation", t.name, "elapsed_ms", elapsed.Milliseconds()}, attrs...)
	logger.Info("operation completed", all...)
}
