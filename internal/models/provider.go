// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package models

import "time"

// Provider REST API Models
// These structures mirror the external tracking backend (Traccar-compatible API).

// ProviderDevice is returned by GET /devices.
type ProviderDevice struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	UniqueID   string         `json:"uniqueId"`
	Status     string         `json:"status"` // online, offline, unknown
	Disabled   bool           `json:"disabled"`
	LastUpdate *time.Time     `json:"lastUpdate"`
	PositionID int64          `json:"positionId"`
	GroupID    int64          `json:"groupId"`
	Phone      string         `json:"phone,omitempty"`
	Model      string         `json:"model,omitempty"`
	Category   string         `json:"category,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ProviderPosition is returned by GET /positions. Speed is in knots.
type ProviderPosition struct {
	ID         int64          `json:"id"`
	DeviceID   int64          `json:"deviceId"`
	Protocol   string         `json:"protocol,omitempty"`
	DeviceTime time.Time      `json:"deviceTime"`
	FixTime    time.Time      `json:"fixTime"`
	ServerTime time.Time      `json:"serverTime"`
	Outdated   bool           `json:"outdated"`
	Valid      bool           `json:"valid"`
	Latitude   *float64       `json:"latitude"`
	Longitude  *float64       `json:"longitude"`
	Altitude   *float64       `json:"altitude"`
	Speed      *float64       `json:"speed"`
	Course     *float64       `json:"course"`
	Accuracy   *float64       `json:"accuracy"`
	Address    string         `json:"address,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ProviderEvent is returned by GET /events (reports/events on Traccar).
type ProviderEvent struct {
	ID            int64          `json:"id"`
	Type          string         `json:"type"`
	EventTime     time.Time      `json:"eventTime"`
	DeviceID      int64          `json:"deviceId"`
	PositionID    int64          `json:"positionId"`
	GeofenceID    int64          `json:"geofenceId"`
	MaintenanceID int64          `json:"maintenanceId"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// Provider event types consumed by the events stream.
const (
	EventDeviceOnline    = "deviceOnline"
	EventDeviceOffline   = "deviceOffline"
	EventDeviceUnknown   = "deviceUnknown"
	EventCommandResult   = "commandResult"
	EventAlarm           = "alarm"
	EventDeviceOverspeed = "deviceOverspeed"
	EventIgnitionOn      = "ignitionOn"
	EventIgnitionOff     = "ignitionOff"
	EventGeofenceEnter   = "geofenceEnter"
	EventGeofenceExit    = "geofenceExit"
	EventDeviceMoving    = "deviceMoving"
	EventDeviceStopped   = "deviceStopped"
)

// ProviderCommand is the body of POST /commands/send and its echo in the response.
type ProviderCommand struct {
	ID          int64          `json:"id,omitempty"`
	DeviceID    int64          `json:"deviceId"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"`
	TextChannel bool           `json:"textChannel,omitempty"`
	Attributes  map[string]any `json:"attributes"`
}

// ProviderCommandType is returned by GET /commands/types.
type ProviderCommandType struct {
	Type string `json:"type"`
}

// ProviderServerInfo is returned by GET /server.
type ProviderServerInfo struct {
	ID           int64          `json:"id"`
	Version      string         `json:"version"`
	Registration bool           `json:"registration"`
	Readonly     bool           `json:"readonly"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}
