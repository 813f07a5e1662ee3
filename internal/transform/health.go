// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package transform

import (
	"fmt"
	"time"

	"github.com/tomtom215/fleetbridge/internal/models"
)

// KindHeartbeat is the health kind for position-derived and inbound heartbeats.
const KindHeartbeat = "heartbeat"

// HealthFromPosition derives a heartbeat from a position's attributes.
func HealthFromPosition(pos *models.ProviderPosition, ref models.DeviceRef, source string) *models.DeviceHealthEvent {
	if pos == nil {
		return nil
	}
	attrs := Attributes(pos.Attributes)
	ev := &models.DeviceHealthEvent{
		DeviceID:         ref.DeviceID,
		ProviderDeviceID: pos.DeviceID,
		CompanyID:        ref.CompanyID,
		Kind:             KindHeartbeat,
		BatteryVolts:     SensorValue(models.SensorBattery, attrs.floatPtr(AttrBattery)),
		BatteryLevel:     RoundPtr(attrs.floatPtr(AttrBatteryLevel), 1),
		Ignition:         attrs.boolPtr(AttrIgnition),
		Motion:           attrs.boolPtr(AttrMotion),
		ObservedTime:     pos.DeviceTime.UTC(),
		Source:           source,
	}
	if alarm, ok := attrs.String(AttrAlarm); ok {
		ev.Alarm = alarm
	}
	return ev
}

// HealthFromEvent maps a provider condition event (alarm, overspeed, ignition, geofence,
// motion) to a health event. The provider event type becomes the Kind.
func HealthFromEvent(pe *models.ProviderEvent, ref models.DeviceRef, source string) (*models.DeviceHealthEvent, error) {
	if pe == nil || pe.EventTime.IsZero() {
		return nil, fmt.Errorf("%w: event without time", ErrMalformed)
	}
	attrs := Attributes(pe.Attributes)
	ev := &models.DeviceHealthEvent{
		DeviceID:         ref.DeviceID,
		ProviderDeviceID: pe.DeviceID,
		CompanyID:        ref.CompanyID,
		Kind:             pe.Type,
		ObservedTime:     pe.EventTime.UTC(),
		Source:           source,
	}
	switch pe.Type {
	case models.EventIgnitionOn:
		on := true
		ev.Ignition = &on
	case models.EventIgnitionOff:
		off := false
		ev.Ignition = &off
	case models.EventDeviceMoving:
		moving := true
		ev.Motion = &moving
	case models.EventDeviceStopped:
		stopped := false
		ev.Motion = &stopped
	case models.EventAlarm:
		if alarm, ok := attrs.String(AttrAlarm); ok {
			ev.Alarm = alarm
		}
	}
	details := map[string]any{}
	if pe.GeofenceID != 0 {
		details["geofenceId"] = pe.GeofenceID
	}
	if pe.PositionID != 0 {
		details["positionId"] = pe.PositionID
	}
	if speed, ok := attrs.Float("speed"); ok {
		details["speedKmh"] = *KnotsToKmh(&speed)
	}
	if limit, ok := attrs.Float("speedLimit"); ok {
		details["speedLimitKmh"] = *KnotsToKmh(&limit)
	}
	if len(details) > 0 {
		ev.Details = details
	}
	return ev, nil
}

// ConnectionStatus maps deviceOnline/deviceOffline/deviceUnknown events.
func ConnectionStatus(pe *models.ProviderEvent, ref models.DeviceRef, source string) (*models.ConnectionStatusEvent, error) {
	if pe == nil || pe.EventTime.IsZero() {
		return nil, fmt.Errorf("%w: event without time", ErrMalformed)
	}
	var status string
	switch pe.Type {
	case models.EventDeviceOnline:
		status = models.StatusOnline
	case models.EventDeviceOffline:
		status = models.StatusOffline
	case models.EventDeviceUnknown:
		status = models.StatusUnknown
	default:
		return nil, fmt.Errorf("%w: event type %q is not a connection status", ErrMalformed, pe.Type)
	}
	return &models.ConnectionStatusEvent{
		DeviceID:         ref.DeviceID,
		ProviderDeviceID: pe.DeviceID,
		CompanyID:        ref.CompanyID,
		Status:           status,
		ChangedTime:      pe.EventTime.UTC(),
		Source:           source,
	}, nil
}

// HeartbeatAt builds a health event from an inbound gateway heartbeat.
func HeartbeatAt(ref models.DeviceRef, observed time.Time, battery *float64, ignition *bool, source string) *models.DeviceHealthEvent {
	return &models.DeviceHealthEvent{
		DeviceID:         ref.DeviceID,
		ProviderDeviceID: ref.ProviderDeviceID,
		CompanyID:        ref.CompanyID,
		Kind:             KindHeartbeat,
		BatteryVolts:     SensorValue(models.SensorBattery, battery),
		Ignition:         ignition,
		ObservedTime:     observed.UTC(),
		Source:           source,
	}
}
