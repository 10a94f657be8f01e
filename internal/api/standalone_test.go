package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hackgods/availability-booking/internal/appointment"
	"github.com/hackgods/availability-booking/internal/config"
	"github.com/hackgods/availability-booking/internal/identity"
	redisclient "github.com/hackgods/availability-booking/internal/redis"
)

// newStandaloneServer mirrors STORE_DRIVER=memory: nobody registers the
// provider or the patients up front.
func newStandaloneServer(t *testing.T, logger zerolog.Logger) *testServer {
	t.Helper()

	svc := appointment.NewService(
		appointment.NewMemoryRepository(appointment.WithImplicitIdentities()),
		redisclient.NewLocalLocker(time.Second),
		config.Config{OperationTimeout: time.Second, ReferenceAttempts: 3, RecurrenceHorizon: 366 * 24 * time.Hour},
	)

	return &testServer{
		provider: uuid.New(),
		patients: []uuid.UUID{uuid.New(), uuid.New()},
		handler: NewRouter(RouterConfig{
			Service:  svc,
			Verifier: identity.NewVerifier(testSecret, ""),
			Logger:   logger,
			Env:      "test",
			Version:  "v0.0.0",
		}),
	}
}

func TestStandaloneMemoryStore_CreateThenBook(t *testing.T) {
	ts := newStandaloneServer(t, zerolog.Nop())
	slots := ts.createSlots(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/slots/"+slots[0].ID.String()+"/book", ts.patientToken(t, 0), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decode[BookingResponse](t, rec)
	assert.Equal(t, ts.patients[0], booking.PatientID)
	assert.Equal(t, ts.provider, booking.ProviderID)

	rec = ts.do(t, http.MethodPost, "/api/v1/slots/"+slots[0].ID.String()+"/book", ts.patientToken(t, 1), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/patients/me/appointments", ts.patientToken(t, 0), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[PatientAppointmentsResponse](t, rec).Appointments, 1)
}

func TestTracingMiddleware_SpanAndLogCorrelation(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	var logs bytes.Buffer
	ts := newStandaloneServer(t, zerolog.New(&logs))

	rec := ts.do(t, http.MethodGet, "/api/v1/slots/"+uuid.NewString(), ts.patientToken(t, 0), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var server sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == "HTTP GET" {
			server = s
		}
	}
	require.NotNil(t, server)
	assert.Contains(t, server.Attributes(), attribute.Int("http.status_code", http.StatusNotFound))

	var line map[string]any
	scanner := bufio.NewScanner(&logs)
	for scanner.Scan() {
		var m map[string]any
		if json.Unmarshal(scanner.Bytes(), &m) == nil && m["message"] == "http request" {
			line = m
		}
	}
	require.NotNil(t, line)
	assert.Equal(t, server.SpanContext().TraceID().String(), line["trace_id"])
}

func TestPatientAppointments_CancelledLeaveTheListing(t *testing.T) {
	ts := newStandaloneServer(t, zerolog.Nop())
	slots := ts.createSlots(t)
	slotPath := "/api/v1/slots/" + slots[0].ID.String()

	rec := ts.do(t, http.MethodPost, slotPath+"/book", ts.patientToken(t, 0), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, slotPath+"/cancel", ts.patientToken(t, 0), CancelSlotRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/patients/me/appointments", ts.patientToken(t, 0), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[PatientAppointmentsResponse](t, rec)
	assert.Empty(t, list.Appointments)
	assert.Equal(t, AppointmentSummary{}, list.Summary)

	rec = ts.do(t, http.MethodGet, "/api/v1/patients/me/appointments?status=cancelled", ts.patientToken(t, 0), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "status")

	rec = ts.do(t, http.MethodGet, "/api/v1/patients/me/appointments?status=booked", ts.patientToken(t, 0), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
