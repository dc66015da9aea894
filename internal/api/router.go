package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds dependency checks on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Put("/relays/{index}", s.handleSetRelay)
		r.Post("/probe", s.handleProbe)

		r.Route("/device", func(r chi.Router) {
			r.Post("/", s.handleBindDevice)
			r.Delete("/", s.handleUnbindDevice)
		})

		r.Route("/devices/recent", func(r chi.Router) {
			r.Get("/", s.handleListRecent)
			r.Delete("/{id}", s.handleForgetRecent)
		})

		r.Get(s.wsCfg.Path, s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server version, MQTT readiness and, when
// configured, the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"connected": s.controller.Status().Connected,
	}

	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.database.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			resp["status"] = "degraded"
			resp["database"] = "error"
		} else {
			resp["database"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
