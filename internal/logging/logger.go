// Package logging wraps log/slog with the component-scoped helpers the
// server uses everywhere.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is a slog.Logger with convenience methods.
type Logger struct {
	*slog.Logger
}

// Config selects level and output format.
type Config struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // text, json
	AddSource bool   `yaml:"add_source"`
}

var DefaultConfig = Config{
	Level:  "info",
	Format: "text",
}

// Component names the subsystem a log line came from.
type Component string

func (c Component) LogValue() slog.Value { return slog.StringValue(string(c)) }

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// NewLogger writes to stdout.
func NewLogger(cfg Config) *Logger {
	return NewLoggerTo(os.Stdout, cfg)
}

// NewLoggerTo writes to w.
func NewLoggerTo(w io.Writer, cfg Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Init installs the process-wide logger.
func Init(cfg Config) *Logger {
	l := NewLogger(cfg)
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	slog.SetDefault(l.Logger)
	return l
}

func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(DefaultConfig)
	}
	return defaultLogger
}

func (l *Logger) WithComponent(c Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", c))}
}

// LogError logs err under msg at error level.
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("error", err.Error()))
	for _, a := range attrs {
		args = append(args, a)
	}
	l.ErrorContext(ctx, msg, args...)
}

// LogOperation runs fn and logs its duration and outcome.
func (l *Logger) LogOperation(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	if err != nil {
		l.LogError(ctx, err, op+" failed", slog.Duration("duration", elapsed))
		return err
	}
	l.InfoContext(ctx, op+" completed", slog.Duration("duration", elapsed))
	return nil
}

// WithComponent is shorthand for Default().WithComponent.
func WithComponent(c Component) *Logger {
	return Default().WithComponent(c)
}
