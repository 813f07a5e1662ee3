// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package models

import (
	"time"
)

// APIResponse is the standard wrapper for every HTTP API response.
//
// Status field values:
//   - "success": see Data
//   - "error": see Error
//
// Example Success Response:
//
//	{
//	  "status": "success",
//	  "data": {"stream": "positions", "stale": false},
//	  "metadata": {"timestamp": "2026-03-01T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is the machine-readable error body.
//
// Codes used by the API:
//   - VALIDATION_ERROR: request body or parameters invalid
//   - NOT_FOUND: unknown command or stream
//   - CONFLICT: sync already running, illegal command transition
//   - PROVIDER_ERROR: provider unreachable or rejected credentials
//   - SERVICE_UNAVAILABLE: queue full or dependency not configured
//   - RATE_LIMITED: per-client request limit exceeded
//   - INTERNAL_ERROR: unexpected failure
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeProvider    = "PROVIDER_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimited = "RATE_LIMITED"
	CodeInternal    = "INTERNAL_ERROR"
)
