package observability

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const ServiceName = "availability-booking"

// NewLogger builds the root logger. dev gets a console writer, everything
// else gets JSON on stdout.
func NewLogger(env, level, version string) zerolog.Logger {
	return newLogger(os.Stdout, env, level, version)
}

func newLogger(out io.Writer, env, level, version string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	w := out
	if env == "dev" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", ServiceName).
		Str("version", version).
		Logger()
}

// LoggerFromContext returns the request logger enriched with the active span.
func LoggerFromContext(ctx context.Context) *zerolog.Logger {
	logger := zerolog.Ctx(ctx).With().Logger()

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		logger = logger.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Logger()
	}

	return &logger
}

// Tracer returns the named tracer from the global provider. Without an SDK
// installed the spans are no-ops.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
