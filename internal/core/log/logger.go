// Package log wraps log/slog with the package-level helpers the rest of
// teamforged calls, plus a Timer for elapsed-time logging.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

var logger *slog.Logger
var currentWriter io.Writer = os.Stdout
var currentLevel = slog.Level(1000)

func init() {
	// High level by default so tests and library consumers don't get
	// unsolicited output until SetLevel is called.
	logger = slog.New(slog.NewTextHandler(currentWriter, &slog.HandlerOptions{
		Level: currentLevel,
	}))
}

// Info logs an info message with optional printf-style args.
func Info(format string, args ...any) {
	if len(args) > 0 {
		logger.Info(fmt.Sprintf(format, args...))
	} else {
		logger.Info(format)
	}
}

// InfoWith logs an info message with structured key-value pairs.
func InfoWith(msg string, attrs ...any) {
	logger.Info(msg, attrs...)
}

// Debug logs a debug message with optional printf-style args.
func Debug(format string, args ...any) {
	if len(args) > 0 {
		logger.Debug(fmt.Sprintf(format, args...))
	} else {
		logger.Debug(format)
	}
}

// DebugWith logs a debug message with structured key-value pairs.
func DebugWith(msg string, attrs ...any) {
	logger.Debug(msg, attrs...)
}

// Warn logs a warning message with optional printf-style args.
func Warn(format string, args ...any) {
	if len(args) > 0 {
		logger.Warn(fmt.Sprintf(format, args...))
	} else {
		logger.Warn(format)
	}
}

// WarnWith logs a warning message with structured key-value pairs.
func WarnWith(msg string, attrs ...any) {
	logger.Warn(msg, attrs...)
}

// Error logs an error message with optional printf-style args.
func Error(format string, args ...any) {
	if len(args) > 0 {
		logger.Error(fmt.Sprintf(format, args...))
	} else {
		logger.Error(format)
	}
}

// ErrorWith logs an error message with structured key-value pairs.
func ErrorWith(msg string, attrs ...any) {
	logger.Error(msg, attrs...)
}

// SetLevel changes the minimum level that reaches the writer.
func SetLevel(level slog.Level) {
	currentLevel = level
	logger = slog.New(slog.NewTextHandler(currentWriter, &slog.HandlerOptions{Level: currentLevel}))
}

// SetWriter redirects log output to writer, preserving the current level.
func SetWriter(writer io.Writer) {
	currentWriter = writer
	logger = slog.New(slog.NewTextHandler(currentWriter, &slog.HandlerOptions{Level: currentLevel}))
}

// SetWriterWithLevel redirects log output and sets the level in one call.
func SetWriterWithLevel(writer io.Writer, level slog.Level) {
	currentWriter = writer
	currentLevel = level
	logger = slog.New(slog.NewTextHandler(currentWriter, &slog.HandlerOptions{Level: currentLevel}))
}

// Timer tracks elapsed time for an operation.
type Timer struct {
	start time.Time
	name  string
}

// StartTimer begins timing an operation.
func StartTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// LogElapsed logs the elapsed time for the operation with extra attributes.
func (t *Timer) LogElapsed(attrs ...any) {
	elapsed := time.Since(t.start)
	allAttrs := append([]any{"operation", t.name, "elapsed_ms", elapsed.Milliseconds()}, attrs...)
	logger.Info("operation completed", allAttrs...)
}

// LogElapsedWith logs the elapsed time with a custom message.
func (t *Timer) LogElapsedWith(msg string, attrs ...any) {
	elapsed := time.Since(t.start)
	allAttrs := append([]any{"operation", t.name, "elapsed_ms", elapsed.Milliseconds()}, attrs...)
	logger.Info(msg, allAttrs...)
}
