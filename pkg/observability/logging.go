package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured logger for relay and callout components.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger on stdout tagged with the component name.
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerTo(os.Stdout, component, level)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(w io.Writer, component string, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(w, opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "chatrelay"),
	)

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything. Used by tests and as the
// fallback when a nil logger is passed to a constructor.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithContext returns a logger carrying the trace and span ids of the active span.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		),
	}
}

// WithThread returns a logger with thread-specific fields
func (l *Logger) WithThread(threadID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("thread_id", threadID),
		),
	}
}

// WithDeployment returns a logger with deployment-specific fields
func (l *Logger) WithDeployment(deploymentID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("deployment_id", deploymentID),
		),
	}
}

// SessionOpened logs a new per-thread broker connection.
func (l *Logger) SessionOpened(threadID string, conversationID int64) {
	l.Info("session opened",
		slog.String("thread_id", threadID),
		slog.Int64("conversation_id", conversationID),
	)
}

// SessionClosed logs the teardown of a per-thread session.
func (l *Logger) SessionClosed(threadID, reason string) {
	l.Info("session closed",
		slog.String("thread_id", threadID),
		slog.String("reason", reason),
	)
}

// AuthDecision logs the outcome of one authorization request.
func (l *Logger) AuthDecision(deploymentID, threadID, serverID string, granted bool, reason string) {
	if granted {
		l.Info("authorization granted",
			slog.String("deployment_id", deploymentID),
			slog.String("thread_id", threadID),
			slog.String("server_id", serverID),
		)
		return
	}
	l.Warn("authorization denied",
		slog.String("deployment_id", deploymentID),
		slog.String("thread_id", threadID),
		slog.String("server_id", serverID),
		slog.String("reason", reason),
	)
}
