package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Public routes
	r.Get("/health", h.Health)
	if h.cfg.Metrics != nil {
		r.Method("GET", "/metrics", h.cfg.Metrics)
	}
	r.Post("/create-user", h.CreateUser)
	r.Post("/login", h.Login)

	// Protected routes (bearer token required)
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg.Gate))
		r.Get("/users/me", h.Me)
		r.Post("/log-symptom", h.LogSymptom)
		r.Get("/symptoms", h.ListSymptoms)

		summary := r.With()
		if h.cfg.SummaryLimiter != nil {
			summary = r.With(h.cfg.SummaryLimiter.Middleware)
		}
		summary.Post("/generate-summary", h.GenerateSummary)
	})

	return r
}
