package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "prod", "warn", "1.2.3")

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	line := decodeLine(t, &buf)
	assert.Equal(t, ServiceName, line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "kept", line["message"])
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "prod", "loud", "v")

	logger.Debug().Msg("debug")
	assert.Zero(t, buf.Len())
	logger.Info().Msg("info")
	assert.NotZero(t, buf.Len())
}

func TestLoggerFromContext_AddsSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	ctx := newLogger(&buf, "prod", "info", "v").WithContext(context.Background())

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	LoggerFromContext(ctx).Info().Msg("with span")
	line := decodeLine(t, &buf)
	assert.Equal(t, traceID.String(), line["trace_id"])
	assert.Equal(t, spanID.String(), line["span_id"])
}

func TestLoggerFromContext_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	ctx := newLogger(&buf, "prod", "info", "v").WithContext(context.Background())

	LoggerFromContext(ctx).Info().Msg("plain")
	line := decodeLine(t, &buf)
	assert.NotContains(t, line, "trace_id")
}
