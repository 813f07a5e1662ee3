// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

// Package directory resolves provider device ids to internal device identities.
//
// Two backends exist: a static table loaded from configuration and a Redis hash per
// device shared with the fleet platform. Lookups are synchronous and fail soft: an
// unknown device yields ErrNotFound and the caller skips the record.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/models"
)

var (
	// ErrNotFound is returned when the provider id has no directory entry.
	ErrNotFound = errors.New("device not found in directory")
	// ErrInvalidEntry is returned when an entry is missing required fields.
	ErrInvalidEntry = errors.New("invalid directory entry")
)

// Resolver maps a provider device id to its internal identity.
type Resolver interface {
	Resolve(ctx context.Context, providerID int64) (models.DeviceRef, error)
}

// Directory is a Resolver with lifecycle hooks.
type Directory interface {
	Resolver
	Ping(ctx context.Context) error
	Close() error
}

// New creates the backend selected by cfg.Backend.
func New(ctx context.Context, cfg *config.DirectoryConfig) (Directory, error) {
	switch cfg.Backend {
	case "static", "":
		return NewStatic(cfg.Devices), nil
	case "redis":
		r := NewRedis(cfg)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown directory backend %q", cfg.Backend)
	}
}

// Static is an immutable in-memory directory.
type Static struct {
	devices map[int64]models.DeviceRef
}

var _ Directory = (*Static)(nil)

// NewStatic builds a directory from config entries. Later duplicates win.
func NewStatic(entries []config.StaticDevice) *Static {
	devices := make(map[int64]models.DeviceRef, len(entries))
	for _, e := range entries {
		devices[e.ProviderID] = models.DeviceRef{
			DeviceID:         e.DeviceID,
			CompanyID:        e.CompanyID,
			ProviderDeviceID: e.ProviderID,
			Active:           e.Active,
		}
	}
	return &Static{devices: devices}
}

func (s *Static) Resolve(_ context.Context, providerID int64) (models.DeviceRef, error) {
	ref, ok := s.devices[providerID]
	if !ok {
		return models.DeviceRef{}, fmt.Errorf("provider device %d: %w", providerID, ErrNotFound)
	}
	return ref, nil
}

// Len returns the number of entries.
func (s *Static) Len() int { return len(s.devices) }

func (s *Static) Ping(context.Context) error { return nil }
func (s *Static) Close() error               { return nil }
