package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ironvale/fleetcore/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates via token query parameter inside the
		// handler; browsers cannot set an Authorization header on the
		// upgrade request.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Registration lifecycle
			r.Route("/registrations", func(r chi.Router) {
				r.With(s.requireRole(auth.RoleAdmin)).Post("/", s.handleRegisterDevice)
				r.Get("/{id}", s.handleGetRegistration)
				r.With(s.requireRole(auth.RoleInstaller)).Post("/{id}/token", s.handleIssueToken)
			})

			// Pairing consumes the one-time secret
			r.With(s.requireRole(auth.RoleInstaller)).Post("/pair", s.handlePair)

			// Provisioning batches
			r.Route("/batches", func(r chi.Router) {
				r.With(s.requireRole(auth.RoleAdmin)).Post("/", s.handleCreateBatch)
				r.Get("/", s.handleListBatches)
				r.Get("/{id}", s.handleGetBatch)
			})

			// Device registry and state ledger
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/state", s.handleGetDeviceState)
					r.Get("/state/history", s.handleGetStateHistory)
					r.With(s.requireRole(auth.RoleOperator)).Post("/command", s.handleSendCommand)
				})
			})

			// Audit trail
			r.With(s.requireRole(auth.RoleAdmin)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
