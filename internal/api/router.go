package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/availability-booking/internal/appointment"
	"github.com/hackgods/availability-booking/internal/identity"
)

type RouterConfig struct {
	Service  *appointment.Service
	Verifier *identity.Verifier
	Logger   zerolog.Logger
	Postgres Pinger
	Redis    Pinger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{svc: cfg.Service}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Post("/providers/me/availability", h.createAvailability)
		r.Get("/providers/{id}/availability", h.getProviderAvailability)
		r.Get("/availability/{id}", h.getAvailability)

		r.Get("/slots/{id}", h.getSlot)
		r.Post("/slots/{id}/book", h.bookSlot)
		r.Post("/slots/{id}/cancel", h.cancelSlot)
		r.Post("/slots/{id}/reschedule", h.rescheduleSlot)
		r.Post("/slots/{id}/block", h.blockSlot)
		r.Post("/slots/{id}/provider-cancel", h.providerCancelSlot)

		r.Get("/patients/me/appointments", h.listPatientAppointments)
	})

	return r
}
