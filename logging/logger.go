// Package logging provides structured logging on top of log/slog for the
// mutation engine, the conflict detector and the storage backends.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-optimistic-kit/errors"
)

// Logger is our wrapper around slog.Logger with additional convenience methods
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config holds logger configuration
type Config struct {
	Level       string    `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format      string    `json:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	AddSource   bool      `json:"add_source" yaml:"add_source"`
	Environment string    `json:"environment" yaml:"environment"`
	Output      io.Writer `json:"-" yaml:"-"`
}

// DefaultConfig is the base that GetConfigFromEnv overlays. Default uses the
// result when Init has not been called.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   false,
	Environment: EnvDevelopment,
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Operation names an engine entry point in log records.
type Operation string

func (o Operation) LogValue() slog.Value {
	return slog.StringValue(string(o))
}

// Component names the emitting subsystem in log records.
type Component string

func (c Component) LogValue() slog.Value {
	return slog.StringValue(string(c))
}

// MutationErrorValuer renders a MutationError as a structured group.
type MutationErrorValuer struct {
	*errors.MutationError
}

func (e MutationErrorValuer) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("operation", string(e.Op)),
		slog.String("component", e.Component),
		slog.String("code", string(e.Code)),
		slog.String("kind", string(e.Kind)),
		slog.Bool("retryable", e.Retryable),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}

	if len(e.Metadata) > 0 {
		metadataAttrs := make([]slog.Attr, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			metadataAttrs = append(metadataAttrs, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Attr{Key: "metadata", Value: slog.GroupValue(metadataAttrs...)})
	}

	return slog.GroupValue(attrs...)
}

// NewLogger creates a new logger with the provided configuration
func NewLogger(config Config) *Logger {
	levelVar := &slog.LevelVar{}
	level, ok := ParseLevel(config.Level)
	if !ok {
		level = slog.LevelInfo
	}
	levelVar.Set(level)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: config.AddSource,
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return &Logger{Logger: slog.New(handler), level: levelVar}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return NewLogger(Config{Level: "error", Format: "text", Output: io.Discard})
}

// Wrap adapts a plain slog logger. The result has no adjustable level.
func Wrap(l *slog.Logger) *Logger {
	if l == nil {
		return Default()
	}
	return &Logger{Logger: l}
}

// Init initializes the global logger with the provided configuration
func Init(config Config) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = NewLogger(config)
	slog.SetDefault(defaultLogger.Logger)
}

// Default returns the default logger instance
func Default() *Logger {
	defaultMu.Lock()
	l := defaultLogger
	defaultMu.Unlock()
	if l == nil {
		Init(GetConfigFromEnv())
		defaultMu.Lock()
		l = defaultLogger
		defaultMu.Unlock()
	}
	return l
}

// SetLevel changes the minimum level at runtime. It reports false for an
// unknown level name.
func (l *Logger) SetLevel(level string) bool {
	lv, ok := ParseLevel(level)
	if !ok || l.level == nil {
		return false
	}
	l.level.Set(lv)
	return true
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	if l.level == nil {
		return slog.LevelInfo
	}
	return l.level.Level()
}

// WithOperation creates a child logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return &Logger{Logger: l.With(slog.Any("operation", op)), level: l.level}
}

// WithComponent creates a child logger with component context
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component)), level: l.level}
}

// LogError logs an error with caller information and structured attributes
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	allAttrs := make([]any, 0, len(attrs)+2)

	var mutErr *errors.MutationError
	if errors.As(err, &mutErr) {
		allAttrs = append(allAttrs, slog.Any("mutation_error", MutationErrorValuer{MutationError: mutErr}))
	} else if err != nil {
		allAttrs = append(allAttrs, slog.String("error", err.Error()))
	}

	pc, file, line, ok := runtime.Caller(1)
	if ok {
		fn := runtime.FuncForPC(pc)
		allAttrs = append(allAttrs,
			slog.Group("caller",
				slog.String("file", file),
				slog.Int("line", line),
				slog.String("function", fn.Name()),
			),
		)
	}

	for _, attr := range attrs {
		allAttrs = append(allAttrs, attr)
	}

	l.ErrorContext(ctx, msg, allAttrs...)
}

// LogOperation logs the start and end of an operation with duration tracking
func (l *Logger) LogOperation(ctx context.Context, op Operation, component Component, fn func() error) error {
	start := time.Now()
	opLogger := l.WithOperation(op).WithComponent(component)

	opLogger.DebugContext(ctx, "operation started")

	err := fn()
	duration := time.Since(start)

	if err != nil {
		opLogger.LogError(ctx, err, "operation failed",
			slog.Duration("duration", duration),
		)
		return err
	}

	opLogger.DebugContext(ctx, "operation completed",
		slog.Duration("duration", duration),
	)
	return nil
}

// WithComponent returns a child of the default logger.
func WithComponent(component Component) *Logger {
	return Default().WithComponent(component)
}

// WithOperation returns a child of the default logger.
func WithOperation(op Operation) *Logger {
	return Default().WithOperation(op)
}

// LogError logs through the default logger.
func LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	Default().LogError(ctx, err, msg, attrs...)
}
