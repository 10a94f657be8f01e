package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	redisclient "github.com/hackgods/availability-booking/internal/redis"
)

func TestBook_RecordsSpans(t *testing.T) {
	f := newFixture(t)
	slots := f.createSlots(t, simpleInput("2030-03-04", "09:00", "10:00"))

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := NewService(f.repo, redisclient.NewLocalLocker(time.Second), f.svc.cfg,
		WithClock(f.clock), WithReferenceFunc(f.refs.next), WithTracerProvider(tp))
	ctx := context.Background()

	_, err := svc.Book(ctx, f.patient(0), slots[0].ID, "")
	require.NoError(t, err)
	_, err = svc.Book(ctx, f.patient(1), slots[0].ID, "")
	assertConflict(t, err, ErrSlotNotAvailable, SlotBooked)

	var books []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "appointment.Book" {
			books = append(books, s)
		}
	}
	require.Len(t, books, 2)

	assert.Equal(t, codes.Unset, books[0].Status().Code)
	assert.Equal(t, codes.Error, books[1].Status().Code)
	assert.Equal(t, KindConflict, books[1].Status().Description)
	require.NotEmpty(t, books[1].Events())
	assert.Equal(t, "exception", books[1].Events()[0].Name)

	assert.True(t, books[0].SpanContext().IsValid())
	assert.NotEqual(t, books[0].SpanContext().TraceID(), books[1].SpanContext().TraceID())
}

func TestCreateAvailability_SpanOnValidationFailure(t *testing.T) {
	f := newFixture(t)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := NewService(f.repo, redisclient.NewLocalLocker(time.Second), f.svc.cfg,
		WithClock(f.clock), WithTracerProvider(tp))

	_, err := svc.CreateAvailability(context.Background(), f.provider.ID, AvailabilityInput{})
	require.ErrorIs(t, err, ErrValidation)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	last := spans[len(spans)-1]
	assert.Equal(t, "appointment.CreateAvailability", last.Name())
	assert.Equal(t, codes.Error, last.Status().Code)
	assert.Equal(t, KindValidation, last.Status().Description)
}
