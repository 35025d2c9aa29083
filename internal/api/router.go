/**
 * @description
 * This file sets up the HTTP router for the banking-service. It defines the API
 * endpoints, associates them with their handlers, and applies middleware for
 * authentication, the admin gate, rate limiting and idempotency.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries the settings the router needs from the service configuration.
type RouterConfig struct {
	AdminRole         string
	InternalAPIKey    string
	RequestTimeout    time.Duration
	TransferRateLimit int
}

// NewRouter creates a new chi router and registers the banking routes.
// authenticate is the bearer token middleware; limiter and idem may be nil.
func NewRouter(
	h *Handlers,
	cfg RouterConfig,
	authenticate func(http.Handler) http.Handler,
	limiter RateLimiter,
	idem IdempotencyStore,
	logger *zap.Logger,
) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Post("/users/enroll", h.EnrollUserHandler)

		r.Post("/accounts", h.OpenAccountHandler)
		r.Get("/accounts", h.ListAccountsHandler)
		r.Get("/accounts/{id}/transactions", h.ListAccountTransactionsHandler)

		r.Post("/cards", h.IssueCardHandler)
		r.Get("/cards", h.ListCardsHandler)
		r.Post("/cards/{id}/lock", h.LockCardHandler)
		r.Post("/cards/{id}/unlock", h.UnlockCardHandler)
		r.Get("/card-transactions", h.ListCardTransactionsHandler)

		// Money movement.
		r.With(
			RateLimitMiddleware(limiter, "transfers", cfg.TransferRateLimit, logger),
			IdempotencyMiddleware(idem, "transfers", logger),
		).Post("/transfers", h.TransferHandler)
		r.With(
			RateLimitMiddleware(limiter, "card_transactions", cfg.TransferRateLimit, logger),
			IdempotencyMiddleware(idem, "card_transactions", logger),
		).Post("/card-transactions", h.CardTransactionHandler)
		r.With(
			RateLimitMiddleware(limiter, "deposits", cfg.TransferRateLimit, logger),
			IdempotencyMiddleware(idem, "deposits", logger),
		).Post("/deposits", h.DepositHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(AdminMiddleware(authenticate, cfg.AdminRole, cfg.InternalAPIKey, logger))
		r.Post("/bulk-transactions", h.BulkImportHandler)
		r.Post("/admin/accounts/{id}/activate", h.ActivateAccountHandler)
	})

	return r
}
