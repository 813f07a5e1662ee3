// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package main is the entry point for the FleetBridge server.

FleetBridge pulls positions, events and device status from a GPS tracking
provider, publishes them as normalized events, and drives outbound device
commands through an acknowledged state machine.

# Application Architecture

Long-running components run under a Suture v4 supervisor tree:

	RootSupervisor ("fleetbridge")
	├── DataSupervisor ("data-layer")
	│   ├── Sync Manager (positions, events, devices)
	│   ├── Heartbeat Listener (optional, INGEST_ENABLED)
	│   └── Storage Compactor (Badger GC, command purge)
	├── MessagingSupervisor ("messaging-layer")
	│   └── Command Dispatcher
	└── APISupervisor ("api-layer")
	    └── HTTP Server (operational API, /metrics)

Initialization order:

 1. Configuration: Koanf v2 (defaults, config file, environment)
 2. Logging: zerolog with JSON or console output
 3. Storage: Badger for checkpoints and commands
 4. Device directory: static list or Redis
 5. Provider client: HTTP with circuit breaker and degraded fallback
 6. Event bus: NATS JetStream (optionally embedded) or in-process channel
 7. Worker pools, dispatcher, sync engine, heartbeat listener
 8. Supervisor tree and HTTP server

# Configuration

Core environment variables:

	PROVIDER_URL=https://tracker.example.com
	PROVIDER_USERNAME=bridge
	PROVIDER_PASSWORD=<password>
	SYNC_POSITIONS_INTERVAL=30s
	NATS_ENABLED=true
	NATS_EMBEDDED=true
	STORAGE_PATH=/data/fleetbridge
	DIRECTORY_BACKEND=redis
	REDIS_ADDR=127.0.0.1:6379
	LOG_LEVEL=info
	LOG_FORMAT=json

A YAML file may be supplied with CONFIG_PATH.

# Graceful Shutdown

SIGINT or SIGTERM cancels the root context. The supervisor stops every
service, then worker pools drain within SHUTDOWN_GRACE before the event bus,
directory and storage are closed.
*/
package main
