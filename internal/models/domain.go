// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package models

import "time"

// DeviceRef is the internal identity of a provider device, as resolved by the device directory.
type DeviceRef struct {
	DeviceID         string `json:"deviceId"`
	CompanyID        string `json:"companyId"`
	ProviderDeviceID int64  `json:"providerDeviceId"`
	Active           bool   `json:"active"`
}

// LocationEvent is a normalized position. Coordinates are rounded to 6 decimal places and
// speed is in km/h. Timestamps are UTC. processedTime >= serverTime >= deviceTime is
// expected but not enforced: providers deliver late and out of order.
type LocationEvent struct {
	DeviceID         string    `json:"deviceId"`
	ProviderDeviceID int64     `json:"providerDeviceId"`
	CompanyID        string    `json:"companyId"`
	PositionID       int64     `json:"positionId"`
	Latitude         *float64  `json:"latitude"`
	Longitude        *float64  `json:"longitude"`
	Altitude         *float64  `json:"altitude"`
	SpeedKmh         *float64  `json:"speedKmh"`
	Course           *float64  `json:"course"`
	Accuracy         *float64  `json:"accuracy"`
	DeviceTime       time.Time `json:"deviceTime"`
	ServerTime       time.Time `json:"serverTime"`
	ProcessedTime    time.Time `json:"processedTime"`
	Valid            bool      `json:"valid"`
	Source           string    `json:"source"`
}

// SensorType enumerates typed sensor readings extracted from provider attributes.
type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorFuel        SensorType = "fuel"
	SensorBattery     SensorType = "battery"
	SensorEngineHours SensorType = "engine-hours"
	SensorWeight      SensorType = "weight"
	SensorPressure    SensorType = "pressure"
	SensorHumidity    SensorType = "humidity"
)

// SensorEvent is one typed sensor reading.
type SensorEvent struct {
	DeviceID         string     `json:"deviceId"`
	ProviderDeviceID int64      `json:"providerDeviceId"`
	CompanyID        string     `json:"companyId"`
	SensorType       SensorType `json:"sensorType"`
	Value            *float64   `json:"value"`
	Unit             string     `json:"unit"`
	ReadingTime      time.Time  `json:"readingTime"`
	Valid            bool       `json:"valid"`
	Source           string     `json:"source"`
}

// DeviceHealthEvent carries heartbeat and device condition signals. Kind is "heartbeat"
// for position-derived and inbound heartbeats, otherwise the provider event type.
type DeviceHealthEvent struct {
	DeviceID         string         `json:"deviceId"`
	ProviderDeviceID int64          `json:"providerDeviceId"`
	CompanyID        string         `json:"companyId"`
	Kind             string         `json:"kind"`
	BatteryVolts     *float64       `json:"batteryVolts,omitempty"`
	BatteryLevel     *float64       `json:"batteryLevel,omitempty"`
	Ignition         *bool          `json:"ignition,omitempty"`
	Motion           *bool          `json:"motion,omitempty"`
	Alarm            string         `json:"alarm,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
	ObservedTime     time.Time      `json:"observedTime"`
	Source           string         `json:"source"`
}

// Connection status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusUnknown = "unknown"
)

// ConnectionStatusEvent reports a device connectivity change.
type ConnectionStatusEvent struct {
	DeviceID         string    `json:"deviceId"`
	ProviderDeviceID int64     `json:"providerDeviceId"`
	CompanyID        string    `json:"companyId"`
	Status           string    `json:"status"`
	ChangedTime      time.Time `json:"changedTime"`
	Source           string    `json:"source"`
}
