/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/properties, /api/users, /api/enquiries   Collaborator seeding
  /api/offers/*                                 Offer lifecycle and payments
  /api/admin/*                                  Operator actions
  /api/scenarios/*                              Demo scenarios
  /ws                                           Notification stream

SECURITY NOTE:
  No authentication middleware. The caller is whoever X-User-ID says; run
  behind a gateway that sets it.

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

// DefaultAllowedOrigins are used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", callerHeader, "Idempotency-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/properties", h.CreateProperty)
		r.Post("/users", h.CreateUser)
		r.Post("/enquiries", h.CreateEnquiry)

		r.Route("/offers", func(r chi.Router) {
			r.Get("/", h.ListOffers)
			r.Post("/", h.CreateOffer)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOffer)
				r.Get("/schedule", h.GetSchedule)
				r.Get("/next-payment", h.GetNextPayment)
				r.Get("/signature", h.GetSignature)

				r.Post("/accept", h.AcceptOffer)
				r.Post("/reject", h.RejectOffer)
				r.Post("/reactivate", h.ReactivateOffer)
				r.Post("/assign", h.AssignOffer)
				r.Post("/allocate", h.AllocateOffer)
				r.Post("/cancel", h.CancelOffer)

				r.Post("/concerns", h.RaiseConcern)
				r.Post("/concerns/{cid}/resolve", h.ResolveConcern)

				r.Post("/payments", h.RecordPayment)
				r.Post("/recompute", h.Recompute)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/reminders", h.GetReminderSchedule)
			r.Post("/reminders/run", h.RunReminders)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/ws", h.ServeWebSocket)

	return r
}
