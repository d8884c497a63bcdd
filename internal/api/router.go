package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carelink/appointment-pipeline/internal/appointment"
)

type RouterConfig struct {
	Intake  *appointment.Intake
	Query   *appointment.Query
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/appointments", createAppointmentHandler(cfg.Intake))
	r.Get("/appointments", listAppointmentsHandler(cfg.Query))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Query))

	return r
}
