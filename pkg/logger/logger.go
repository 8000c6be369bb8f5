// Package logger provides the levelled logger used by kindling, backed by
// github.com/charmbracelet/log.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Level represents the logging level.
type Level int

// Log levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return ""
	}
}

// ParseLevel parses "debug", "info", "warn", "error" or "none".
// Unknown values yield LevelInfo and false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "none", "off":
		return LevelNone, true
	}
	return LevelInfo, false
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Logger provides logging functionality.
type Logger struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	base   *log.Logger
}

const prefix = "kindling"

var defaultLogger = New(os.Stderr, LevelInfo)

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// New creates a new logger.
func New(output io.Writer, level Level) *Logger {
	l := &Logger{level: level, output: output}
	l.base = l.build()
	return l
}

func (l *Logger) build() *log.Logger {
	out := l.output
	if l.level == LevelNone {
		out = io.Discard
	}
	return log.NewWithOptions(out, log.Options{
		Prefix:          prefix,
		Level:           l.level.charm(),
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
	})
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.base = l.build()
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.base = l.build()
}

// Disable silences the logger.
func (l *Logger) Disable() {
	l.SetLevel(LevelNone)
}

// With returns a charm logger carrying the given key/value pairs, for
// structured logging of a unit of work.
func (l *Logger) With(keyvals ...any) *log.Logger {
	return l.current().With(keyvals...)
}

func (l *Logger) current() *log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.base
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.current().Debugf(format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...any) {
	l.current().Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	l.current().Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.current().Errorf(format, args...)
}

// Package-level convenience functions.

// Debug logs a debug message using the default logger.
func Debug(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

// Info logs an info message using the default logger.
func Info(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Error logs an error message using the default logger.
func Error(format string, args ...any) {
	defaultLogger.Error(format, args...)
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput sets the output of the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

// Disable silences the default logger.
func Disable() {
	defaultLogger.Disable()
}
