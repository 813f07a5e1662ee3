// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package middleware provides HTTP middleware for the operational API.

Key Components:

  - Request ID: UUID-based request tracking, propagated into the logging context
  - Prometheus Metrics: request count and latency by method and route pattern
  - Performance Monitor: sliding-window latency percentiles per route

All middleware has the chi signature func(http.Handler) http.Handler. Metrics are
labelled with the chi route pattern (for example /api/v1/commands/{id}) rather than
the raw path, so label cardinality stays bounded. Requests that match no route are
labelled "unmatched".

Usage:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(monitor.Middleware)
*/
package middleware
