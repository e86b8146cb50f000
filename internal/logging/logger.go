package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel is a zerolog level name.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

type requestIDKey struct{}

// RequestIDLocal is the fiber Locals key the requestid middleware writes to.
const RequestIDLocal = "requestid"

// Logger wraps a zerolog logger with request and job helpers.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger writes to output, or stdout when output is nil. Unknown level
// names fall back to info.
func NewLogger(logLevel LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		logger: zerolog.New(output).Level(parseLevel(logLevel)).With().Timestamp().Logger(),
	}
}

func parseLevel(l LogLevel) zerolog.Level {
	level, err := zerolog.ParseLevel(string(l))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Zerolog exposes the underlying logger for components that take one by value.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// WithRequestID stores a request id for WithContext to pick up.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithContext returns a child logger tagged with the request id and the
// active span, when present.
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	child := l.logger.With()
	if id := RequestID(ctx); id != "" {
		child = child.Str("req_id", id)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		child = child.
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String())
	}
	logger := child.Logger()
	return &logger
}

// LogJobProcessing records one maintenance task run.
func (l *Logger) LogJobProcessing(queue, jobType string, attempt int, duration time.Duration, err error) {
	ev := l.logger.Info()
	if err != nil {
		ev = l.logger.Error().Err(err)
	}
	ev.Str("queue", queue).
		Str("job_type", jobType).
		Int("attempt", attempt).
		Int64("duration_ms", duration.Milliseconds())
	if err != nil {
		ev.Msg("Job failed")
		return
	}
	ev.Msg("Job done")
}

// FiberLoggerMiddleware logs one line per request after the handler chain
// runs. 4xx responses log at warn and 5xx at error.
func (l *Logger) FiberLoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqID, _ := c.Locals(RequestIDLocal).(string)
		if reqID != "" {
			c.SetUserContext(WithRequestID(c.UserContext(), reqID))
		}

		err := c.Next()

		status := c.Response().StatusCode()
		var ev *zerolog.Event
		switch {
		case status >= fiber.StatusInternalServerError:
			ev = l.logger.Error()
		case status >= fiber.StatusBadRequest:
			ev = l.logger.Warn()
		default:
			ev = l.logger.Info()
		}
		ev.Str("req_id", reqID).
			Str("ip", c.IP()).
			Str("method", c.Method()).
			Str("url", c.OriginalURL()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")

		return err
	}
}
