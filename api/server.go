/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/tenants/{tenant}/bookings/*   Booking workflow operations
  /api/tenants/{tenant}/tasks/*      Task assignment and completion
  /api/tenants/{tenant}/wallets/*    Commission balances
  /api/tenants/{tenant}/audit/*      Audit chain verification
  /metrics                           Prometheus metrics
  /healthz                           Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api/tenants/{tenant}", func(r chi.Router) {
		// Booking routes
		r.Route("/bookings/{id}", func(r chi.Router) {
			r.Get("/", h.GetBooking)
			r.Post("/confirm", h.ConfirmBooking)
			r.Post("/cancel", h.CancelBooking)
			r.Post("/complete", h.CompleteBooking)
			r.Post("/reschedule", h.RescheduleBooking)
			r.Post("/duplicate", h.DuplicateBooking)
		})
		r.Post("/availability", h.CheckAvailability)

		// Task routes
		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Post("/assign", h.AssignTask)
			r.Get("/assignees", h.ListAssignees)
			r.Post("/assignees", h.AddAssignee)
			r.Delete("/assignees/{user}", h.RemoveAssignee)
			r.Post("/complete", h.CompleteTask)
		})

		// Wallet routes
		r.Get("/wallets/{user}", h.GetWallet)

		// Audit routes
		r.Get("/audit/verify", h.VerifyAudit)
	})

	// Operational endpoints
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
