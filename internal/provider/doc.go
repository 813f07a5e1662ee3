// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package provider is the client for the external GPS tracking backend (a Traccar-compatible
REST API).

# Clients

Client is the operation surface. Three implementations compose:

  - HTTPClient: basic auth, separate connect and read timeouts, outbound rate limiting,
    bounded retries for idempotent reads
  - BreakerClient: wraps any Client with a gobreaker circuit breaker
  - FallbackClient: wraps any Client and turns transport failures into degraded results

The usual stack is FallbackClient(BreakerClient(HTTPClient)).

# Errors

Every failure is an *Error with a Kind:

  - KindTransport: network errors, timeouts, 429 and 5xx. Retryable.
  - KindAuth: 401 and 403. Stream-level fatal.
  - KindSemantic: 400 and 422, such as an unsupported command. Not retryable.
  - KindNotFound: 404. Not retryable.

Use KindOf, IsAuth and the retry package classifiers instead of inspecting status codes.
*/
package provider
