// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package metrics provides Prometheus instrumentation for FleetBridge.

Metrics are registered with promauto on the default registry and exposed at
GET /metrics. Collectors are grouped by subsystem:

  - Sync: cycle duration, records by outcome, errors by type, last success, checkpoint lag
  - Events: envelopes published per topic, publish failures
  - Provider: request latency and status, circuit breaker state and transitions
  - Commands: state transitions, send attempts, active commands
  - Worker pools: queue depth, rejected submissions
  - HTTP API: request count and latency
  - Ingest: connections and heartbeat lines

Callers use the Record* helpers rather than touching collectors directly.
*/
package metrics
