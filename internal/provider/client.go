// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package provider

import (
	"context"
	"time"

	"github.com/tomtom215/fleetbridge/internal/models"
)

// Client is the provider operation surface.
type Client interface {
	Devices(ctx context.Context) ([]models.ProviderDevice, error)
	Positions(ctx context.Context, q PositionQuery) ([]models.ProviderPosition, error)
	Events(ctx context.Context, q EventQuery) ([]models.ProviderEvent, error)
	SendCommand(ctx context.Context, req CommandRequest) (*models.ProviderCommand, error)
	CommandTypes(ctx context.Context, deviceID int64) ([]models.ProviderCommandType, error)
	ServerInfo(ctx context.Context) (*models.ProviderServerInfo, error)
}

// PositionQuery selects positions. DeviceID 0 means all devices. Limit 0 means unbounded.
type PositionQuery struct {
	DeviceID int64
	From     time.Time
	To       time.Time
	Limit    int
}

// EventQuery selects device events. An empty Types matches every type.
type EventQuery struct {
	DeviceID int64
	Types    []string
	From     time.Time
	To       time.Time
	Limit    int
}

// CommandRequest is a command to send to a device.
type CommandRequest struct {
	DeviceID    int64
	Type        string
	Description string
	Attributes  map[string]any
}

