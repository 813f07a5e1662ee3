// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/fleetbridge/internal/checkpoint"
	"github.com/tomtom215/fleetbridge/internal/middleware"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/stats"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

// PerformanceReport is the performance endpoint payload.
type PerformanceReport struct {
	stats.PerfSnapshot
	Endpoints []middleware.EndpointStats `json:"endpoints"`
	Pools     []workerpool.Stats         `json:"pools"`
}

// Performance returns counters, timers, endpoint latencies and pool usage.
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Perf == nil {
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Performance counters not configured", nil)
		return
	}
	report := PerformanceReport{
		PerfSnapshot: h.deps.Perf.Snapshot(),
		Endpoints:    []middleware.EndpointStats{},
		Pools:        make([]workerpool.Stats, 0, len(h.deps.Pools)),
	}
	if h.deps.Monitor != nil {
		report.Endpoints = h.deps.Monitor.Stats()
	}
	for _, p := range h.deps.Pools {
		report.Pools = append(report.Pools, p.Stats())
	}
	respondData(w, http.StatusOK, report, start)
}

// ErrorSummary returns error counts by type.
func (h *Handler) ErrorSummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Errors == nil {
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Error tracker not configured", nil)
		return
	}
	respondData(w, http.StatusOK, h.deps.Errors.Summary(), start)
}

// Checkpoints lists the persisted stream checkpoints.
func (h *Handler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Checkpoints == nil {
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Checkpoint store not configured", nil)
		return
	}
	cps, err := h.deps.Checkpoints.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, models.CodeInternal, "Failed to list checkpoints", err)
		return
	}
	if cps == nil {
		cps = []checkpoint.Checkpoint{}
	}
	respondData(w, http.StatusOK, cps, start)
}
