// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

// Package diagnostics serves the local operator endpoint: liveness and
// readiness probes, Prometheus metrics, and a JSON status snapshot. The
// listener is loopback by default and rate limited; it exists for humans
// and local tooling, never for the control plane.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetwatch/agent/internal/engine"
	"github.com/fleetwatch/agent/internal/log"
)

// Generous for local tooling, hostile to anything that polls in a loop.
const (
	rateLimit  = 60
	rateWindow = time.Minute
)

// Source exposes the live agent state behind /readyz and /status. The
// running engine implements it.
type Source interface {
	Ready(ctx context.Context) error
	Status(ctx context.Context) engine.Status
}

// Handler builds the diagnostics router.
func Handler(src Source) http.Handler {
	logger := log.WithComponent("diagnostics")

	r := chi.NewRouter()
	r.Use(middleware.NoCache)
	r.Use(httprate.Limit(
		rateLimit,
		rateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := src.Ready(req.Context()); err != nil {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "diagnostics.not_ready").
				Msg("readiness probe failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, src.Status(req.Context()))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
