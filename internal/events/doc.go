// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package events builds versioned event envelopes and publishes them to the fleet event bus.

# Envelope

Every domain record is wrapped in an Envelope carrying a globally unique event id, event
type, emission timestamp, source tag and schema version. Event ids are name-based
(UUID v5) over the record's logical identity, for example (deviceId, deviceTime,
recordType) for telemetry. Re-publishing the same provider record therefore reuses the
same id, and consumers can deduplicate on it.

# Transport

Publisher is the synchronous publish contract used by the sync engine and the command
dispatcher: Publish returns only after the broker has accepted (or rejected) the message.

  - NATS JetStream via Watermill (production). The envelope id is sent as Nats-Msg-Id,
    so JetStream drops duplicates inside the stream's duplicate window.
  - Watermill GoChannel (in-process, NATS disabled and tests).

Bus wires either transport from configuration, optionally starting an embedded NATS
server and provisioning the stream before the first publish.
*/
package events
