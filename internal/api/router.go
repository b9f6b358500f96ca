package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-scheduling/internal/appointment"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
)

type RouterConfig struct {
	Availability *availability.Service
	Appointments *appointment.Service
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Post("/slots", publishSlotHandler(cfg.Availability))
		r.Get("/slots", listSlotsHandler(cfg.Availability))
		r.Post("/time-off", markTimeOffHandler(cfg.Availability))
		r.Get("/time-off", listTimeOffHandler(cfg.Availability))
		r.Delete("/time-off/{timeOffID}", removeTimeOffHandler(cfg.Availability))
	})

	// Appointments
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", allocateHandler(cfg.Appointments))
		r.Get("/", listAppointmentsHandler(cfg.Appointments))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/complete", completeAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/no-show", noShowAppointmentHandler(cfg.Appointments))
		r.Post("/{id}/reschedule", requestRescheduleHandler(cfg.Appointments))
	})

	// Reschedule decisions
	r.Route("/reschedules", func(r chi.Router) {
		r.Post("/{requestID}/approve", approveRescheduleHandler(cfg.Appointments))
		r.Post("/{requestID}/reject", rejectRescheduleHandler(cfg.Appointments))
	})

	return r
}
