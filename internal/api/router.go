package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service      AppointmentService
	Hub          Subscriber
	Checks       []Check
	SSEHeartbeat time.Duration
	Logger       *zap.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger.Named("http")
	heartbeat := cfg.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/doctors/{doctorId}/notifications", notificationStreamHandler(cfg.Hub, heartbeat, logger))

	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", getAppointmentHandler(cfg.Service, logger))
		r.Patch("/", editAppointmentHandler(cfg.Service, logger))
		r.Delete("/", deleteAppointmentHandler(cfg.Service, logger))
		r.Post("/status", changeStatusHandler(cfg.Service, logger))
		r.Post("/reopen", reopenAppointmentHandler(cfg.Service, logger))
	})

	return r
}
