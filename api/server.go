/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard frontend

OPERATIONAL ENDPOINTS:
  /metrics  Prometheus metrics
  /health   Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.IssueBatch)
			r.Get("/available", h.ListAvailableBatches)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/purchase", h.PurchaseCredits)
			r.Post("/{id}/retire", h.RetireCredits)
			r.Get("/{id}/transactions", h.ListBatchTransactions)
			r.Get("/{id}/retirements", h.ListBatchRetirements)
			r.Get("/{id}/holdings/{buyerId}", h.GetHolding)
		})

		r.Route("/producers", func(r chi.Router) {
			r.Get("/{id}/batches", h.ListBatchesByProducer)
		})

		r.Route("/buyers", func(r chi.Router) {
			r.Get("/{id}/transactions", h.ListBuyerTransactions)
			r.Get("/{id}/retirements", h.ListBuyerRetirements)
		})

		r.Get("/transactions", h.ListAllTransactions)
		r.Get("/retirements", h.ListAllRetirements)
		r.Get("/stats", h.GetStats)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
