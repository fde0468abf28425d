package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/dental-appointment-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service  AppointmentService
	Store    Pinger
	Redis    *redis.Client
	Notifier NotifierState
	Metrics  *metrics.Collector
	Logger   *zap.Logger
	Env      string
	Version  string

	RateLimitPerMinute int
	AllowedOrigins     []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log, cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints
	health := NewHealthHandler(cfg.Store, cfg.Redis, cfg.Notifier, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// Appointment endpoints
	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}

		r.Post("/appointments", createAppointmentHandler(cfg.Service, log))
		r.Get("/appointments/today", todaysAppointmentsHandler(cfg.Service, log))
		r.Get("/appointments/today/summary", todaysSummaryHandler(cfg.Service, log))
		r.Get("/appointments/upcoming", upcomingAppointmentsHandler(cfg.Service, log))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service, log))
		r.Patch("/appointments/{id}", updateAppointmentHandler(cfg.Service, log))
		r.Patch("/appointments/{id}/status", transitionStatusHandler(cfg.Service, log))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Service, log))
	})

	return r
}
