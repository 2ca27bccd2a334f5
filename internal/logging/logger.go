package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a slog level; the aliases keep callers off the slog import.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is the harness logger. Children made with With or WithComponent
// share the parent's handler and level.
type Logger struct {
	*slog.Logger
}

// Config selects the verbosity and format of the harness log.
type Config struct {
	Level  Level
	Output io.Writer
	// JSON switches from the console format to one JSON object per line,
	// for CI systems that ingest structured logs.
	JSON bool
}

// DefaultConfig logs info and above to stderr in console format.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// New builds a Logger from cfg. A nil Output means stderr.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.JSON {
		return &Logger{slog.New(slog.NewJSONHandler(out, opts))}
	}
	return &Logger{slog.New(NewConsoleHandler(out, opts))}
}

var current atomic.Pointer[Logger]

// Default returns the process logger installed by SetDefault, or a
// DefaultConfig logger when none has been installed.
func Default() *Logger {
	if l := current.Load(); l != nil {
		return l
	}
	current.CompareAndSwap(nil, New(DefaultConfig()))
	return current.Load()
}

// SetDefault installs l as the process logger.
func SetDefault(l *Logger) {
	current.Store(l)
}

// WithComponent scopes the default logger to one harness component.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// ParseLevel accepts the --log-level spellings: debug, info, warn or
// warning, and error. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// WithComponent tags every record with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// With attaches key/value pairs, in order, to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}
