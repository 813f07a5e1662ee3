// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package transform

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/fleetbridge/internal/models"
)

// ErrMalformed marks a provider record that cannot be transformed. It is a record-level
// error: the record is skipped and counted as a data-quality error.
var ErrMalformed = errors.New("malformed provider record")

// ValidatePosition checks the fields a LocationEvent cannot be built without.
// Missing optional numerics are fine; present values must be finite and in range.
func ValidatePosition(pos *models.ProviderPosition) error {
	if pos == nil {
		return fmt.Errorf("%w: nil position", ErrMalformed)
	}
	if pos.DeviceTime.IsZero() {
		return fmt.Errorf("%w: position %d has no device time", ErrMalformed, pos.ID)
	}
	for name, v := range map[string]*float64{
		"latitude":  pos.Latitude,
		"longitude": pos.Longitude,
		"altitude":  pos.Altitude,
		"speed":     pos.Speed,
		"course":    pos.Course,
		"accuracy":  pos.Accuracy,
	} {
		if !finite(v) {
			return fmt.Errorf("%w: position %d has non-finite %s", ErrMalformed, pos.ID, name)
		}
	}
	if pos.Latitude != nil && (*pos.Latitude < -90 || *pos.Latitude > 90) {
		return fmt.Errorf("%w: position %d latitude %v out of range", ErrMalformed, pos.ID, *pos.Latitude)
	}
	if pos.Longitude != nil && (*pos.Longitude < -180 || *pos.Longitude > 180) {
		return fmt.Errorf("%w: position %d longitude %v out of range", ErrMalformed, pos.ID, *pos.Longitude)
	}
	return nil
}

// ToLocationEvent converts a provider position for a resolved device.
func ToLocationEvent(pos *models.ProviderPosition, ref models.DeviceRef, source string, processed time.Time) (*models.LocationEvent, error) {
	if err := ValidatePosition(pos); err != nil {
		return nil, err
	}
	return &models.LocationEvent{
		DeviceID:         ref.DeviceID,
		ProviderDeviceID: pos.DeviceID,
		CompanyID:        ref.CompanyID,
		PositionID:       pos.ID,
		Latitude:         Coordinate(pos.Latitude),
		Longitude:        Coordinate(pos.Longitude),
		Altitude:         RoundPtr(pos.Altitude, SpeedScale),
		SpeedKmh:         KnotsToKmh(pos.Speed),
		Course:           RoundPtr(pos.Course, SpeedScale),
		Accuracy:         RoundPtr(pos.Accuracy, SpeedScale),
		DeviceTime:       pos.DeviceTime.UTC(),
		ServerTime:       utcOrZero(pos.ServerTime),
		ProcessedTime:    processed.UTC(),
		Valid:            pos.Valid,
		Source:           source,
	}, nil
}

func utcOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
