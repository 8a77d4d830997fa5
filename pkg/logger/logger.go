// Package logger is the application-facing structured logger of the journey
// service. It is a thin layer over log/slog: the application and HTTP layers log
// through typed Field constructors, and infrastructure receives the same handler
// as a plain *slog.Logger via Slog, so both streams share one format and level.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name as it appears in output.
func (l Level) String() string {
	return l.slog().String()
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a LOG_LEVEL value to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// Field is a structured key-value pair.
type Field = slog.Attr

func String(key, value string) Field          { return slog.String(key, value) }
func Int(key string, value int) Field         { return slog.Int(key, value) }
func Int64(key string, value int64) Field     { return slog.Int64(key, value) }
func Float64(key string, value float64) Field { return slog.Float64(key, value) }
func Bool(key string, value bool) Field       { return slog.Bool(key, value) }
func Any(key string, value any) Field         { return slog.Any(key, value) }

// Err records err under "error". A nil error yields an empty field, which
// handlers drop.
func Err(err error) Field {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Duration records d as a string such as "1.5s".
func Duration(key string, d time.Duration) Field {
	return slog.String(key, d.String())
}

// Journey fields.
func StudentID(id string) Field     { return String("student_id", id) }
func StageID(id string) Field       { return String("stage_id", id) }
func StageType(t string) Field      { return String("stage_type", t) }
func EventType(t string) Field      { return String("event_type", t) }
func CourseContext(c string) Field  { return String("course_context", c) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// RequestIDKey is the field key for request tracing.
const RequestIDKey = "request_id"

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// Options configures New.
type Options struct {
	Output io.Writer
	Level  Level
	// AddCaller adds the calling file:line as "source".
	AddCaller bool
	// Format is "json" (default) or "text".
	Format string
}

// Logger writes leveled, structured records. Derived loggers share the handler.
type Logger struct {
	sl *slog.Logger
}

// New creates a Logger writing to opts.Output, stdout by default.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: opts.Level.slog(), AddSource: opts.AddCaller}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		h = slog.NewTextHandler(opts.Output, ho)
	} else {
		h = slog.NewJSONHandler(opts.Output, ho)
	}
	return &Logger{sl: slog.New(h)}
}

// Default returns an info-level JSON logger on stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo})
}

// With returns a Logger that adds fields to every record.
func (l *Logger) With(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &Logger{sl: l.sl.With(args...)}
}

// WithRequestID returns a Logger tagged with the request ID.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

// Slog exposes the underlying logger for packages that take *slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.sl }

func (l *Logger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

// log builds the record itself so that "source" points at our caller rather
// than at this file.
func (l *Logger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	h := l.sl.Handler()
	if !h.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // Callers, log, Info
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(fields...)
	_ = h.Handle(ctx, r)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger attached to ctx, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}
