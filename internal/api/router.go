package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/david-collett/reclaimenergy/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermStateRead)).Get("/state", s.handleGetState)
			r.With(s.requirePermission(auth.PermStateRefresh)).Post("/state/refresh", s.handleRefreshState)

			r.Route("/attributes", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermStateRead)).Get("/", s.handleListAttributes)
				r.With(s.requirePermission(auth.PermAttributeWrite)).Put("/{name}", s.handleSetAttribute)
			})

			r.With(s.requirePermission(auth.PermHistoryRead)).Get("/history", s.handleGetHistory)

			// WebSocket: browsers cannot set headers on the upgrade request,
			// so authMiddleware also accepts ?token=.
			r.With(s.requirePermission(auth.PermStateRead)).Get("/ws", s.handleWebSocket)
		})
	})

	return r
}
