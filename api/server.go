/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers. The engine itself
  is invoked through internal call interfaces; this surface exists for
  operators and the dashboard frontend.

ROUTER: chi
  Lightweight, context-based, RESTful route patterns.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/snapshots/*       Snapshot inspection
  /api/backfill/*        Backfill job control
  /api/reconciliation/*  Run history and scheduling
  /api/admin/*           Operator controls
  /metrics               Prometheus scrape endpoint
  /healthz               Health and storage stats

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Snapshot routes
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", h.ListSnapshots)
			r.Get("/latest", h.GetLatestSnapshot)
			r.Get("/{id}", h.GetSnapshotMetadata)
			r.Get("/{id}/manifest", h.GetSnapshotManifest)
			r.Get("/{id}/compatibility", h.CheckCompatibility)
			r.Get("/{id}/rankings", h.GetRankings)
			r.Get("/{id}/districts/{districtID}", h.GetDistrictData)
		})

		// Backfill routes
		r.Route("/backfill", func(r chi.Router) {
			r.Post("/", h.StartBackfill)
			r.Get("/", h.ListBackfillJobs)
			r.Get("/{id}", h.GetBackfillJob)
			r.Delete("/{id}", h.CancelBackfill)
		})

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListReconciliationRuns)
			r.Post("/schedule", h.TriggerMonthTransition)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reset-errors", h.ResetErrorState)
			r.Post("/cleanup-jobs", h.CleanupJobs)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Health)

	return r
}
