// Package logging provides structured logging for the engine, with tick and
// world identifiers threaded through every entry the way a request trace ID
// is threaded through an HTTP service.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried on a tick's context.Context.
type ContextKey string

const (
	// WorldIDKey is the context key for the world a log line concerns.
	WorldIDKey ContextKey = "world_id"
	// TickKey is the context key for the current simulation tick.
	TickKey ContextKey = "tick"
	// PhaseKey is the context key for the currently executing phase name.
	PhaseKey ContextKey = "phase"
	// RequestIDKey is the context key for the debugger transport's per-request trace ID.
	RequestIDKey ContextKey = "request_id"
)

// Logger wraps logrus.Logger with engine-specific structured fields.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance for a named engine component (e.g.
// "scheduler", "occlusion", "replication").
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv constructs a logger using ECS_LOG_LEVEL and ECS_LOG_FORMAT,
// defaulting to "info" and "json" when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("ECS_LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("ECS_LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext creates a log entry carrying world/tick/phase fields found on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if worldID := ctx.Value(WorldIDKey); worldID != nil {
		entry = entry.WithField("world_id", worldID)
	}
	if tick := ctx.Value(TickKey); tick != nil {
		entry = entry.WithField("tick", tick)
	}
	if phase := ctx.Value(PhaseKey); phase != nil {
		entry = entry.WithField("phase", phase)
	}
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}

// WithFields creates a log entry with custom fields plus the component tag.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithWorldID adds a world identifier to the context.
func WithWorldID(ctx context.Context, worldID string) context.Context {
	return context.WithValue(ctx, WorldIDKey, worldID)
}

// WithTick adds the current tick counter to the context.
func WithTick(ctx context.Context, tick uint64) context.Context {
	return context.WithValue(ctx, TickKey, tick)
}

// WithPhase adds the currently executing phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, PhaseKey, phase)
}

// NewRequestID mints a trace identifier for one debugger transport request.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID adds a debugger transport request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// LogRequest records one inbound debugger transport request (HTTP poll or
// websocket upgrade) with its outcome and latency.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("debugger transport request")
}

// LogSystemPanic records a system that panicked mid-tick and was disabled
// for the remainder of the tick.
func (l *Logger) LogSystemPanic(ctx context.Context, systemName string, recovered interface{}) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"system": systemName,
		"panic":  recovered,
	}).Error("system panicked; disabled for remainder of tick")
}

// LogCommandDropped records a command-queue pool exhaustion (soft error).
func (l *Logger) LogCommandDropped(ctx context.Context, closureType string) {
	l.WithContext(ctx).WithField("closure_type", closureType).Warn("command dropped: pool exhausted")
}

// Default returns a lazily-initialized package logger for call sites that
// don't own a component-scoped Logger (e.g. package-level helpers).
var defaultLogger *Logger

// Default returns the default logger, initializing it from the environment
// on first use.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewFromEnv("ecsruntime")
	}
	return defaultLogger
}
