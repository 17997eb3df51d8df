// Package httptransport assembles the HTTP router. It owns the middleware
// stack and mounts every feature handler; business logic stays in the
// internal services.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attesto/internal/platform/middleware"
)

// Registrar is anything that can mount routes on the router. Every feature
// handler satisfies it.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires the middleware stack, the Prometheus scrape endpoint, and
// all feature handlers.
func NewRouter(logger *slog.Logger, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}

	return r
}
