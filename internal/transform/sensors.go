// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package transform

import (
	"github.com/tomtom215/fleetbridge/internal/models"
)

type sensorSpec struct {
	kind    models.SensorType
	unit    string
	extract func(Attributes) (float64, bool)
}

// sensorSpecs is ordered; SensorReadings emits readings in this order.
var sensorSpecs = []sensorSpec{
	{models.SensorTemperature, "celsius", Attributes.Temperature},
	{models.SensorFuel, "percent", Attributes.Fuel},
	{models.SensorBattery, "volt", Attributes.Battery},
	{models.SensorEngineHours, "hour", Attributes.Hours},
	{models.SensorWeight, "kilogram", Attributes.Weight},
	{models.SensorPressure, "kilopascal", Attributes.Pressure},
	{models.SensorHumidity, "percent", Attributes.Humidity},
}

// SensorUnit returns the unit reported for a sensor type.
func SensorUnit(t models.SensorType) string {
	for _, s := range sensorSpecs {
		if s.kind == t {
			return s.unit
		}
	}
	return ""
}

// SensorReadings extracts one SensorEvent per typed sensor present in the position's
// attributes. Unset sensors produce nothing. The reading time is the device time.
func SensorReadings(pos *models.ProviderPosition, ref models.DeviceRef, source string) []models.SensorEvent {
	if pos == nil || len(pos.Attributes) == 0 {
		return nil
	}
	attrs := Attributes(pos.Attributes)
	var out []models.SensorEvent
	for _, s := range sensorSpecs {
		v, ok := s.extract(attrs)
		if !ok {
			continue
		}
		out = append(out, models.SensorEvent{
			DeviceID:         ref.DeviceID,
			ProviderDeviceID: pos.DeviceID,
			CompanyID:        ref.CompanyID,
			SensorType:       s.kind,
			Value:            SensorValue(s.kind, &v),
			Unit:             s.unit,
			ReadingTime:      pos.DeviceTime.UTC(),
			Valid:            pos.Valid,
			Source:           source,
		})
	}
	return out
}
