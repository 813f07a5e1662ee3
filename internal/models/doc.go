// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package models defines the data structures shared across FleetBridge.

Model Categories:

 1. Provider Models (provider.go): records as returned by the external GPS tracking
    backend REST API. Numeric readings are pointers so that a JSON null stays
    distinguishable from zero.

 2. Domain Models (domain.go): internal fleet events published to the event bus
    (LocationEvent, SensorEvent, DeviceHealthEvent, ConnectionStatusEvent) and the
    DeviceRef identity produced by the device directory.

 3. API Models (api_responses.go): the standard HTTP response wrapper.

All JSON uses goccy/go-json through the callers; struct tags follow the provider's
camelCase naming for provider models and the internal event schema for domain models.
*/
package models
