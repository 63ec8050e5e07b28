package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/metrics"
	mW "github.com/ruralpay/ledger/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Auth    *AuthHandler
	Ledger  *LedgerHandler
	StepUp  *StepUpHandler
	Imports *ImportHandler
	Health  *HealthHandler
}

// RouterOptions tune the router for tests; the server uses the zero value
// plus the real auth middleware.
type RouterOptions struct {
	// Auth replaces mW.AuthMiddleware when set.
	Auth func(http.Handler) http.Handler
}

func NewRouter(h Handlers, log zerolog.Logger, opts RouterOptions) http.Handler {
	auth := opts.Auth
	if auth == nil {
		auth = mW.AuthMiddleware
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mW.SecurityHeaders)
	r.Use(mW.Logger(log))
	r.Use(mW.Recovery(log))
	r.Use(metrics.Middleware)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "Location"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", h.Health.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.Health)
		r.Post("/auth/login", h.Auth.Login)
		r.Get("/imports/template", h.Imports.Template)

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Post("/auth/step-up", h.StepUp.Reauthenticate)
			r.Get("/step-up", h.StepUp.Preview)

			r.Get("/accounts", h.Ledger.ListAccounts)
			r.Get("/accounts/{id}", h.Ledger.GetAccount)
			r.Get("/accounts/{id}/transactions", h.Ledger.ListTransactions)
			r.Post("/accounts/{id}/deposit", h.Ledger.Deposit)
			r.Post("/accounts/{id}/withdraw", h.Ledger.Withdraw)
			r.Post("/transfers", h.Ledger.Transfer)
			r.Post("/transactions/{id}/undo", h.Ledger.Undo)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Put("/accounts/{id}/freeze", h.Ledger.Freeze)
				r.Put("/accounts/{id}/unfreeze", h.Ledger.Unfreeze)
				r.Get("/accounts/{id}/reconcile", h.Ledger.Reconcile)
				r.Post("/imports", h.Imports.Upload)
				r.Get("/imports/{id}", h.Imports.Status)
			})
		})
	})

	return r
}
