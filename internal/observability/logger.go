// Package observability provides structured logging and pipeline metrics.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// requestIDKey is the context key for pipeline run IDs.
	requestIDKey contextKey = "requestID"
	// developerKey is the context key for the developer identifier.
	developerKey contextKey = "developer"
	// stepKey is the context key for the current pipeline step.
	stepKey contextKey = "step"
)

// Logger defines the interface for structured logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// Context variants include request_id/developer/step fields carried
	// in the context.
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// With returns a new Logger with the given attributes.
	With(args ...any) Logger
	// WithComponent returns a new Logger with the component field set.
	WithComponent(name string) Logger

	// Slog returns the underlying *slog.Logger for compatibility.
	Slog() *slog.Logger
}

// Config holds configuration for the logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the destination for logs (defaults to os.Stderr).
	Output io.Writer
	// AddSource adds source file and line to log entries.
	AddSource bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		Output: os.Stderr,
	}
}

// ConfigFromEnv creates a Config from environment variables.
// DEVACCOUNTS_LOG_LEVEL: debug, info, warn, error (default: info)
// DEVACCOUNTS_LOG_FORMAT: json, text (default: text)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if level := os.Getenv("DEVACCOUNTS_LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("DEVACCOUNTS_LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	return cfg
}

type defaultLogger struct {
	slogger *slog.Logger
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg Config) Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return &defaultLogger{slogger: slog.New(handler)}
}

// NewLoggerFromSlog creates a Logger wrapping an existing *slog.Logger.
func NewLoggerFromSlog(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &defaultLogger{slogger: l}
}

func parseLevel(s string) slog.Level {
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

func (l *defaultLogger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }
func (l *defaultLogger) Info(msg string, args ...any)  { l.slogger.Info(msg, args...) }
func (l *defaultLogger) Warn(msg string, args ...any)  { l.slogger.Warn(msg, args...) }
func (l *defaultLogger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

func (l *defaultLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *defaultLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *defaultLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *defaultLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, appendContextFields(ctx, args)...)
}

func (l *defaultLogger) With(args ...any) Logger {
	return &defaultLogger{slogger: l.slogger.With(args...)}
}

func (l *defaultLogger) WithComponent(name string) Logger {
	return l.With("component", name)
}

func (l *defaultLogger) Slog() *slog.Logger { return l.slogger }

// appendContextFields extracts known fields from context and appends them to args.
func appendContextFields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		args = append(args, "request_id", reqID)
	}
	if dev := DeveloperFromContext(ctx); dev != "" {
		args = append(args, "developer", dev)
	}
	if step := StepFromContext(ctx); step != "" {
		args = append(args, "step", step)
	}
	return args
}

// WithRequestID stores the pipeline run ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the pipeline run ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithDeveloper stores the developer identifier in the context.
func WithDeveloper(ctx context.Context, developer string) context.Context {
	if developer == "" {
		return ctx
	}
	return context.WithValue(ctx, developerKey, developer)
}

// DeveloperFromContext retrieves the developer identifier from context.
func DeveloperFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(developerKey).(string); ok {
		return v
	}
	return ""
}

// WithStep stores the current pipeline step name in the context.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	return context.WithValue(ctx, stepKey, step)
}

// StepFromContext retrieves the current pipeline step name from context.
func StepFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(stepKey).(string); ok {
		return v
	}
	return ""
}
