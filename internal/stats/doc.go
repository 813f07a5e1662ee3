// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

// Package stats holds process-local error and performance counters backing the
// /stats endpoints. All mutation paths are lock-free: counters are created once through
// sync.Map and then updated with atomic operations, so sync workers, dispatcher timers
// and ingest handlers can record concurrently without contention.
//
// Prometheus metrics in internal/metrics cover the same signals for scraping; these
// counters exist so operators get a readable summary without a metrics backend.
package stats
