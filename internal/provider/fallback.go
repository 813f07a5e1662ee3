// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package provider

import (
	"context"
	"fmt"

	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/models"
)

var _ Client = (*FallbackClient)(nil)

// FallbackClient serves degraded results while the primary is unavailable.
//
// On a transport failure (including an open breaker), reads return empty results and
// an error matching both ErrDegraded and the original failure. Writes fail fast the
// same way. Auth and semantic errors pass through untouched.
type FallbackClient struct {
	primary Client
}

// NewFallbackClient wraps primary.
func NewFallbackClient(primary Client) *FallbackClient {
	return &FallbackClient{primary: primary}
}

func degrade(op string, err error) error {
	if err == nil || !IsTransport(err) {
		return err
	}
	logging.Warn().Err(err).Str("op", op).Msg("Provider unavailable, serving degraded result")
	return fmt.Errorf("%w: %s: %w", ErrDegraded, op, err)
}

func (f *FallbackClient) Devices(ctx context.Context) ([]models.ProviderDevice, error) {
	out, err := f.primary.Devices(ctx)
	if err = degrade("devices", err); err != nil {
		return []models.ProviderDevice{}, err
	}
	return out, nil
}

func (f *FallbackClient) Positions(ctx context.Context, q PositionQuery) ([]models.ProviderPosition, error) {
	out, err := f.primary.Positions(ctx, q)
	if err = degrade("positions", err); err != nil {
		return []models.ProviderPosition{}, err
	}
	return out, nil
}

func (f *FallbackClient) Events(ctx context.Context, q EventQuery) ([]models.ProviderEvent, error) {
	out, err := f.primary.Events(ctx, q)
	if err = degrade("events", err); err != nil {
		return []models.ProviderEvent{}, err
	}
	return out, nil
}

func (f *FallbackClient) SendCommand(ctx context.Context, req CommandRequest) (*models.ProviderCommand, error) {
	out, err := f.primary.SendCommand(ctx, req)
	if err = degrade("send_command", err); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FallbackClient) CommandTypes(ctx context.Context, deviceID int64) ([]models.ProviderCommandType, error) {
	out, err := f.primary.CommandTypes(ctx, deviceID)
	if err = degrade("command_types", err); err != nil {
		return []models.ProviderCommandType{}, err
	}
	return out, nil
}

func (f *FallbackClient) ServerInfo(ctx context.Context) (*models.ProviderServerInfo, error) {
	out, err := f.primary.ServerInfo(ctx)
	if err = degrade("server_info", err); err != nil {
		return nil, err
	}
	return out, nil
}
