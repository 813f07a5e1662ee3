// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package config provides centralized configuration management for FleetBridge.

Configuration is layered with Koanf v2:

 1. Defaults: built-in values from defaultConfig()
 2. Config File: optional YAML file (CONFIG_PATH or the DefaultConfigPaths search list)
 3. Environment Variables: explicit env var to key mappings (see envMappings)

# Sections

  - Provider: external GPS tracking backend (base URL, basic auth, timeouts, retries)
  - Sync: per-stream intervals, batch size, checkpoint cadence, staleness threshold
  - Commands: acknowledgement window and retry/backoff policy for device commands
  - Pools: worker pool sizes and queue depths, shutdown grace period
  - NATS: JetStream event bus (external or embedded server)
  - Storage: Badger directory for checkpoints and command records
  - Directory: device directory backend (static or redis)
  - Ingest: inbound TCP heartbeat listener
  - Server: HTTP API (host, port, timeouts, rate limit, CORS)
  - Logging: level, format, caller

# Example

	PROVIDER_URL=https://gps.example.com/api
	PROVIDER_USERNAME=bridge
	PROVIDER_PASSWORD=secret
	SYNC_BATCH_SIZE=500
	COMMAND_ACK_TIMEOUT=30s
	NATS_URL=nats://nats:4222

Validation errors always name the environment variable to fix.
*/
package config
