/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing (read by error logging)
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests, origins from config

ROUTE GROUPS:
  /healthz              Liveness
  /api/batches/*        Batch registry and lifecycle
  /api/transfers/*      Transfer request workflow
  /api/scenarios/*      Demo scenarios (dev only)

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
)

// DefaultAllowedOrigins is used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.CreateBatch)
			r.Get("/expiring", h.ListExpiring)
			r.Post("/sweep-expired", h.SweepExpired)
			r.Get("/{id}", h.GetBatch)
			r.Delete("/{id}", h.DeactivateBatch)
			r.Get("/{id}/movements", h.GetBatchMovements)
			r.Post("/{id}/quarantine", h.QuarantineBatch)
			r.Post("/{id}/release-quarantine", h.ReleaseQuarantine)
			r.Post("/{id}/expire", h.ExpireBatch)
			r.Put("/{id}/quantity", h.UpdateBatchQuantity)
			r.Put("/{id}/location", h.UpdateBatchLocation)
		})

		// Transfer routes
		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", h.ListTransfers)
			r.Post("/", h.CreateTransfer)
			r.Get("/overdue", h.ListOverdue)
			r.Get("/urgent", h.ListUrgent)
			r.Get("/number/{number}", h.GetTransferByNumber)
			r.Get("/{id}", h.GetTransfer)
			r.Post("/{id}/approve", h.ApproveTransfer)
			r.Post("/{id}/reject", h.RejectTransfer)
			r.Post("/{id}/dispatch", h.DispatchTransfer)
			r.Post("/{id}/confirm-delivery", h.ConfirmDelivery)
			r.Post("/{id}/complete", h.CompleteTransfer)
			r.Post("/{id}/cancel", h.CancelTransfer)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
