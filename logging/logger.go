package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to a LogLevel. Unknown
// values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface used across the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// NewHandler builds a slog handler writing to w. Format "json" selects the
// JSON handler; anything else selects the colourised tint console handler.
func NewHandler(w io.Writer, level LogLevel, format string) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      slogLevel(level),
		TimeFormat: time.TimeOnly,
	})
}

// Setup installs a process-wide default logger on stderr and returns it
// wrapped as a Logger.
func Setup(level, format string) Logger {
	logger := slog.New(NewHandler(os.Stderr, ParseLevel(level), format))
	slog.SetDefault(logger)
	return NewSlogAdapter(logger)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
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

// TurnLogger decorates a Logger with session and turn identifiers. It is
// cheap to copy via the With* methods.
type TurnLogger struct {
	base      Logger
	sessionID string
	turnID    string
	attrs     []any
}

// NewTurnLogger wraps l; a nil l discards everything.
func NewTurnLogger(l Logger) *TurnLogger {
	if l == nil {
		l = NoOpLogger{}
	}
	return &TurnLogger{base: l}
}

// WithSession attaches session and turn identifiers.
func (l *TurnLogger) WithSession(sessionID, turnID string) *TurnLogger {
	nl := *l
	nl.sessionID = sessionID
	nl.turnID = turnID
	return &nl
}

// With attaches additional key/value attributes to every entry.
func (l *TurnLogger) With(args ...any) *TurnLogger {
	nl := *l
	nl.attrs = append(append([]any{}, l.attrs...), args...)
	return &nl
}

func (l *TurnLogger) args(extra []any) []any {
	out := make([]any, 0, len(l.attrs)+len(extra)+4)
	if l.sessionID != "" {
		out = append(out, "session_id", l.sessionID)
	}
	if l.turnID != "" {
		out = append(out, "turn_id", l.turnID)
	}
	out = append(out, l.attrs...)
	return append(out, extra...)
}

// Debug logs at debug level.
func (l *TurnLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.args(args)...) }

// Info logs at info level.
func (l *TurnLogger) Info(msg string, args ...any) { l.base.Info(msg, l.args(args)...) }

// Warn logs at warn level.
func (l *TurnLogger) Warn(msg string, args ...any) { l.base.Warn(msg, l.args(args)...) }

// Error logs at error level.
func (l *TurnLogger) Error(msg string, args ...any) { l.base.Error(msg, l.args(args)...) }

// LogToolCall records execution details for a tool invocation.
func (l *TurnLogger) LogToolCall(tool string, dur time.Duration, err error) {
	if err != nil {
		l.Error("tool.call.error", "tool", tool, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	l.Info("tool.call.success", "tool", tool, "duration_ms", dur.Milliseconds())
}

// LogModelCall records one model round: chunk count, latency and outcome.
func (l *TurnLogger) LogModelCall(model string, chunks int, dur time.Duration, err error) {
	if err != nil {
		l.Error("model.call.error", "model", model, "chunks", chunks, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	l.Info("model.call.success", "model", model, "chunks", chunks, "duration_ms", dur.Milliseconds())
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	sessionIDKey contextKey = "session_id"
)

// WithTraceID stores a request trace id on ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID returns the trace id stored on ctx, if any.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithSessionID stores a session id on ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID returns the session id stored on ctx, if any.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
