// Package logging provides the leveled logger used across extractopt.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// Logger is the logging surface every component depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	SetLevel(level LogLevel)
}

// DefaultLogger writes slog text records to stderr.
type DefaultLogger struct {
	logger *slog.Logger
	out    io.Writer
	level  LogLevel
}

// NewLogger creates a new logger with the specified level
func NewLogger(level LogLevel) *DefaultLogger {
	return NewLoggerTo(os.Stderr, level)
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, level LogLevel) *DefaultLogger {
	l := &DefaultLogger{out: w}
	l.SetLevel(level)
	return l
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, args ...any) {
	if l.level >= LogLevelDebug {
		l.logger.Debug(msg, args...)
	}
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, args ...any) {
	if l.level >= LogLevelInfo {
		l.logger.Info(msg, args...)
	}
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, args ...any) {
	if l.level >= LogLevelWarn {
		l.logger.Warn(msg, args...)
	}
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, args ...any) {
	if l.level >= LogLevelError {
		l.logger.Error(msg, args...)
	}
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level = level
	opts := &slog.HandlerOptions{
		Level: toSlogLevel(level),
	}
	l.logger = slog.New(slog.NewTextHandler(l.out, opts))
}

func (l LogLevel) String() string {
	names := [...]string{"OFF", "ERROR", "WARN", "INFO", "DEBUG"}
	if l < 0 || int(l) >= len(names) {
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
	return names[l]
}

// MarshalText lets levels round-trip through YAML and env.
func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LogLevel) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "OFF":
		*l = LogLevelOff
	case "ERROR":
		*l = LogLevelError
	case "WARN", "WARNING":
		*l = LogLevelWarn
	case "INFO":
		*l = LogLevelInfo
	case "DEBUG":
		*l = LogLevelDebug
	default:
		return fmt.Errorf("invalid log level: %s", string(text))
	}
	return nil
}
