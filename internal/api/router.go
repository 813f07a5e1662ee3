// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/middleware"
	"github.com/tomtom215/fleetbridge/internal/models"
)

// NewRouter builds the chi router for every route.
func NewRouter(h *Handler, mw *ChiMiddleware) chi.Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(chimiddleware.Compress(5, "application/json"))
	r.Use(middleware.PrometheusMetrics)
	if h.deps.Monitor != nil {
		r.Use(h.deps.Monitor.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", h.Live)
			r.Get("/ready", h.Ready)
			r.Get("/provider", h.ProviderStatus)
			r.Get("/sync", h.SyncStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit())

			r.Post("/sync/{stream}/trigger", h.TriggerSync)

			r.Route("/stats", func(r chi.Router) {
				r.Get("/performance", h.Performance)
				r.Get("/errors", h.ErrorSummary)
			})
			r.Get("/checkpoints", h.Checkpoints)

			r.Route("/commands", func(r chi.Router) {
				r.Get("/", h.ListCommands)
				r.Post("/", h.SubmitCommand)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetCommand)
					r.Post("/cancel", h.CancelCommand)
					r.Post("/status", h.UpdateCommandStatus)
				})
			})
		})
	})
	return r
}

// NewServer creates the HTTP server for the router.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Timeout,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      2 * cfg.Timeout,
		IdleTimeout:       120 * time.Second,
	}
}
