// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// SchemaVersion is the current envelope schema version.
// Increment when making breaking changes to Envelope or its payloads.
const SchemaVersion = 1

// ErrInvalidEnvelope is returned for envelopes missing required fields.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope wraps a domain record for the event bus.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	SchemaVersion int             `json:"schemaVersion"`
	DeviceID      string          `json:"deviceId,omitempty"`
	CompanyID     string          `json:"companyId,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// Validate checks required fields.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil", ErrInvalidEnvelope)
	}
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidEnvelope)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidEnvelope)
	}
	if e.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidEnvelope)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEnvelope)
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: data is required", ErrInvalidEnvelope)
	}
	return nil
}

// GetSchemaVersion returns the schema version, defaulting to 1 for envelopes without one.
func (e *Envelope) GetSchemaVersion() int {
	if e.SchemaVersion == 0 {
		return 1
	}
	return e.SchemaVersion
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}
