// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/models"
)

// idNamespace scopes name-based event ids to this service.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/tomtom215/fleetbridge/events"))

// EventID derives a stable id from the parts of a logical occurrence.
func EventID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|"))).String()
}

// TelemetryEventID is the id of a telemetry record, keyed by (deviceId, deviceTime, recordType).
func TelemetryEventID(deviceID string, deviceTime time.Time, recordType string) string {
	return EventID(deviceID, deviceTime.UTC().Format(time.RFC3339Nano), recordType)
}

// CommandEventID is the id of a command state change. A command enters RETRY and SENT
// once per attempt, so the retry count is part of the key.
func CommandEventID(commandID, state string, retryCount int) string {
	return EventID("command", commandID, state, strconv.Itoa(retryCount))
}

// Builder stamps envelopes with the service source tag and emission time.
type Builder struct {
	source string
	clock  clock.Clock
}

// NewBuilder creates a builder. A nil clock uses wall time.
func NewBuilder(source string, clk clock.Clock) *Builder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Builder{source: source, clock: clk}
}

// Source returns the source tag stamped on envelopes.
func (b *Builder) Source() string { return b.source }

// Build wraps payload in an envelope with the given id.
func (b *Builder) Build(eventType, eventID, deviceID, companyID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := &Envelope{
		EventID:       eventID,
		EventType:     eventType,
		Timestamp:     b.clock.Now().UTC(),
		Source:        b.source,
		SchemaVersion: SchemaVersion,
		DeviceID:      deviceID,
		CompanyID:     companyID,
		Data:          data,
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Location builds a location envelope.
func (b *Builder) Location(ev *models.LocationEvent) (*Envelope, error) {
	id := TelemetryEventID(ev.DeviceID, ev.DeviceTime, "location")
	return b.Build(TypeLocationUpdated, id, ev.DeviceID, ev.CompanyID, ev)
}

// Sensor builds a sensor reading envelope.
func (b *Builder) Sensor(ev *models.SensorEvent) (*Envelope, error) {
	id := TelemetryEventID(ev.DeviceID, ev.ReadingTime, "sensor:"+string(ev.SensorType))
	return b.Build(TypeSensorReading, id, ev.DeviceID, ev.CompanyID, ev)
}

// Health builds a device health envelope.
func (b *Builder) Health(ev *models.DeviceHealthEvent) (*Envelope, error) {
	id := TelemetryEventID(ev.DeviceID, ev.ObservedTime, "health:"+ev.Kind)
	return b.Build(TypeDeviceHealth, id, ev.DeviceID, ev.CompanyID, ev)
}

// Connection builds a connection status envelope.
func (b *Builder) Connection(ev *models.ConnectionStatusEvent) (*Envelope, error) {
	id := TelemetryEventID(ev.DeviceID, ev.ChangedTime, "connection:"+ev.Status)
	return b.Build(TypeConnectionStatus, id, ev.DeviceID, ev.CompanyID, ev)
}
