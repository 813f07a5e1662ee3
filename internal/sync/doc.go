// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package sync polls the telemetry provider and republishes new records as events.

Three streams are synchronized independently:

	positions  GET /positions  -> location, sensor and heartbeat events
	events     GET /events     -> connection, health events and command acknowledgments
	devices    GET /devices    -> connection status changes from the roster

Each cycle loads the stream checkpoint, fetches at most BatchSize records newer than
it, and walks them in provider order. A record is resolved through the device
directory, transformed and published before the in-memory watermark moves past it.
The checkpoint is persisted when the batch completes, or every CheckpointEvery
records when that is set.

Failure handling per record:

	resolution failure   skip, count, halt the batch
	transform failure    skip, count, continue; the watermark stays put
	publish failure      skip, count, halt the batch
	inactive device      filtered; the watermark advances

Provider auth failures and degraded (fallback) responses abort the cycle without
touching the checkpoint and are surfaced through Engine.Freshness.

At most one cycle per stream runs at a time; a second concurrent request fails with
ErrCycleInProgress. Manager schedules cycles on the sync worker pool.
*/
package sync
