/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in error logs
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Timeout:    Cancels the request context after RequestTimeout

AUTHENTICATION:
  Applied per route, not as middleware, so each handler receives the
  resolved access.Caller as an argument. ownerOnly routes additionally
  require the owner role.
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	RequestTimeout time.Duration // zero = no timeout
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/me", h.authed(h.GetMyProfile))
			r.Get("/", h.ownerOnly(h.ListCustomers))
			r.Post("/", h.ownerOnly(h.CreateCustomer))
			r.Get("/{id}", h.ownerOnly(h.GetCustomer))
			r.Patch("/{id}", h.authed(h.UpdateCustomer))
			r.Post("/{id}/balance", h.ownerOnly(h.AdjustBalance))
			r.Get("/{id}/transactions", h.authed(h.GetTransactions))
			r.Get("/{id}/reconcile", h.ownerOnly(h.Reconcile))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.authed(h.PlaceOrder))
			r.Get("/", h.ownerOnly(h.ListOrders))
			r.Get("/user", h.authed(h.ListMyOrders))
			r.Post("/return", h.ownerOnly(h.ProcessCanReturn))
			r.Get("/{id}", h.authed(h.GetOrder))
			r.Patch("/{id}/status", h.ownerOnly(h.UpdateOrderStatus))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/status", h.authed(h.GetInventoryStatus))
			r.Post("/update", h.ownerOnly(h.AdjustInventory))
			r.Get("/history", h.ownerOnly(h.GetInventoryHistory))
		})

		r.Get("/dashboard/summary", h.ownerOnly(h.GetDashboardSummary))

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ownerOnly(h.ListScenarios))
			r.Get("/current", h.ownerOnly(h.GetCurrentScenario))
			r.Post("/load", h.ownerOnly(h.LoadScenario))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
