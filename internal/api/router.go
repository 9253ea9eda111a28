package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/aliases", s.handleListAliases)
				r.Put("/aliases", s.handleSetAlias)
			})
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

// handleStats returns resolution counters and registry totals.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}

	if s.summary != nil {
		resp["resolution"] = s.summary.Summary()
	}
	if s.candidates != nil {
		resp["candidates"] = s.candidates.Len()
	}

	count, err := s.store.CountDevices(r.Context())
	if err != nil {
		s.logger.Error("device count failed", "error", err)
		writeInternalError(w, "device count unavailable")
		return
	}
	resp["devices"] = count

	writeJSON(w, http.StatusOK, resp)
}
