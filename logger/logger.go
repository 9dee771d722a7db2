package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Format represents the log format
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Logger represents a logger instance
type Logger struct {
	mu      sync.RWMutex
	slog    *slog.Logger
	writers []io.Writer
	level   *slog.LevelVar
	format  Format
}

// New creates a new logger
func New(level slog.Level, format Format, writers ...io.Writer) *Logger {
	l := &Logger{
		writers: writers,
		level:   new(slog.LevelVar),
		format:  format,
	}
	l.level.Set(level)
	l.rebuild()
	return l
}

// rebuild swaps the underlying handler. Callers must hold mu or own l exclusively.
func (l *Logger) rebuild() {
	out := io.MultiWriter(l.writers...)
	opts := &slog.HandlerOptions{Level: l.level}
	var handler slog.Handler
	switch l.format {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	l.slog = slog.New(handler)
}

func (l *Logger) current() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slog
}

// SetLevel sets the logging level. It is safe to call while other goroutines log.
func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

// Level returns the current log level
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// SetFormat changes the log format
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
	l.rebuild()
}

// AddOutput adds a new output destination
func (l *Logger) AddOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = append(l.writers, w)
	l.rebuild()
}

// Close closes all file writers except stdout/stderr
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.writers {
		if file, ok := writer.(*os.File); ok && file != os.Stdout && file != os.Stderr {
			if err := file.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// With returns a slog.Logger carrying the given attributes.
func (l *Logger) With(args ...any) *slog.Logger {
	return l.current().With(args...)
}

func (l *Logger) Debug(msg string, args ...any) { l.current().Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.current().Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.current().Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.current().Error(msg, args...) }

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.current().DebugContext(ctx, msg, args...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.current().InfoContext(ctx, msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.current().WarnContext(ctx, msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.current().ErrorContext(ctx, msg, args...)
}

// Init initializes the default logger. Stdout is always included.
func Init(level slog.Level, format Format, paths ...string) error {
	writers := []io.Writer{os.Stdout}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	next := New(level, format, writers...)
	defaultMu.Lock()
	prev := defaultLogger
	defaultLogger = next
	defaultMu.Unlock()
	_ = prev.Close()
	return nil
}

// GetLevelFromString returns the log level from a string
func GetLevelFromString(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(slog.LevelInfo, FormatText, os.Stderr)
)

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLevel changes the level of the process-wide logger.
func SetDefaultLevel(level slog.Level) {
	Default().SetLevel(level)
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	Default().DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	Default().InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	Default().WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}
