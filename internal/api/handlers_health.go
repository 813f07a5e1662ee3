// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/fleetbridge/internal/models"
	syncpkg "github.com/tomtom215/fleetbridge/internal/sync"
)

// LiveStatus is the liveness payload.
type LiveStatus struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ProviderHealth is the provider reachability payload.
type ProviderHealth struct {
	Reachable       bool   `json:"reachable"`
	ProviderVersion string `json:"provider_version,omitempty"`
	Breaker         string `json:"breaker,omitempty"`
	LatencyMS       int64  `json:"latency_ms"`
	Error           string `json:"error,omitempty"`
}

// DependencyStatus is one readiness check.
type DependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Readiness is the readiness payload.
type Readiness struct {
	Ready        bool               `json:"ready"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// Live answers as long as the process can serve HTTP.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	respondData(w, http.StatusOK, LiveStatus{
		Status:        "ok",
		Version:       h.deps.Version,
		UptimeSeconds: h.clock.Now().Sub(h.started).Seconds(),
	}, start)
}

// Ready checks the device directory and event bus.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := h.probeContext(r.Context())
	defer cancel()

	report := Readiness{Ready: true, Dependencies: []DependencyStatus{}}
	if h.deps.Directory != nil {
		dep := DependencyStatus{Name: "directory", Healthy: true}
		if err := h.deps.Directory.Ping(ctx); err != nil {
			dep.Healthy, dep.Error = false, err.Error()
		}
		report.Dependencies = append(report.Dependencies, dep)
	}
	if h.deps.Bus != nil {
		report.Dependencies = append(report.Dependencies, DependencyStatus{Name: "event_bus", Healthy: h.deps.Bus.Healthy(ctx)})
	}
	for _, d := range report.Dependencies {
		if !d.Healthy {
			report.Ready = false
		}
	}

	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	respondData(w, status, report, start)
}

// ProviderStatus calls the provider server endpoint. It answers 503 when the provider
// is unreachable or rejects the credentials.
func (h *Handler) ProviderStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Provider == nil {
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Provider client not configured", nil)
		return
	}
	ctx, cancel := h.probeContext(r.Context())
	defer cancel()

	report := ProviderHealth{}
	if h.deps.Breaker != nil {
		report.Breaker = h.deps.Breaker.State()
	}
	probeStart := time.Now()
	info, err := h.deps.Provider.ServerInfo(ctx)
	report.LatencyMS = time.Since(probeStart).Milliseconds()
	if err != nil {
		report.Error = err.Error()
		respondData(w, http.StatusServiceUnavailable, report, start)
		return
	}
	report.Reachable = true
	if info != nil {
		report.ProviderVersion = info.Version
	}
	respondData(w, http.StatusOK, report, start)
}

// SyncStatus reports per-stream freshness. The optional stream query parameter
// restricts the report to one stream.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Sync == nil {
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Sync engine not configured", nil)
		return
	}
	var streams []string
	if s := r.URL.Query().Get("stream"); s != "" {
		if !syncpkg.ValidStream(s) {
			respondError(w, http.StatusNotFound, models.CodeNotFound, "Unknown stream: "+s, nil)
			return
		}
		streams = append(streams, s)
	}

	report := h.deps.Sync.Freshness(streams...)
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	respondData(w, status, report, start)
}
