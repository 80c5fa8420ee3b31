/**
 * @description
 * This file sets up the HTTP router for the payments-service. It defines the
 * webhook endpoint, the operator endpoints, and applies middleware. The
 * webhook route carries no auth middleware on purpose: the provider
 * authenticates by request signature, which the handler checks itself.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the operator dashboard.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the routing-relevant configuration.
type RouterConfig struct {
	OpsJWKSURL        string
	OpsAllowedOrigins []string
}

// NewRouter creates and returns the router for the payments service.
func NewRouter(webhook *WebhookHandler, admin *AdminHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// The webhook path may legitimately hold the connection for the length of
	// the side-effect race, so the timeout sits above it.
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider-facing webhook; authenticated by signature, never by session.
	r.Method(http.MethodPost, "/webhook", webhook)

	// Operator endpoints for dead-letter resolution and retry-queue inspection.
	r.Route("/admin", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.OpsAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(OperatorAuthMiddleware(cfg.OpsJWKSURL))

		r.Get("/dead-letters", admin.ListDeadLettersHandler)
		r.Post("/dead-letters/{entryID}/resolve", admin.ResolveDeadLetterHandler)
		r.Get("/retry-queue", admin.ListRetryQueueHandler)
	})

	return r
}
