// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package api serves the operational and command HTTP endpoints.

Routes (all JSON, wrapped in models.APIResponse):

	GET  /api/v1/health/live               process liveness
	GET  /api/v1/health/provider           provider reachability and breaker state
	GET  /api/v1/health/sync               per-stream freshness, 503 when stale or auth failed
	POST /api/v1/sync/{stream}/trigger     queue a sync cycle (202, 409 when running)
	GET  /api/v1/stats/performance         counters, timers, endpoint latency, pool stats
	GET  /api/v1/stats/errors              error counts by type
	GET  /api/v1/checkpoints               persisted stream checkpoints
	GET  /api/v1/commands                  list commands (deviceId, state, active, limit)
	POST /api/v1/commands                  submit a device command
	GET  /api/v1/commands/{id}             command with history
	POST /api/v1/commands/{id}/cancel      cancel a pending, sent or retrying command
	POST /api/v1/commands/{id}/status      device callback: acknowledged, executing, executed, failed
	GET  /metrics                          Prometheus exposition

The router stacks request IDs, real IP, panic recovery, CORS, per-IP rate limiting,
gzip, Prometheus and latency-window middleware in that order.
*/
package api
