// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package transform

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomtom215/fleetbridge/internal/models"
)

const (
	// CoordinateScale is the number of decimal places kept for latitude and longitude.
	CoordinateScale = 6
	// SpeedScale is the number of decimal places kept for km/h speeds.
	SpeedScale = 2
	// DefaultSensorScale applies to sensor types without a specific scale.
	DefaultSensorScale = 2
)

// knotsToKmh is the exact conversion factor.
var knotsToKmh = decimal.RequireFromString("1.852")

// RoundHalfUp rounds v to places decimal places, ties away from zero.
func RoundHalfUp(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// RoundPtr rounds *v, returning nil for nil input.
func RoundPtr(v *float64, places int32) *float64 {
	if v == nil {
		return nil
	}
	r := RoundHalfUp(*v, places)
	return &r
}

// Coordinate rounds a latitude or longitude to 6 decimal places.
func Coordinate(v *float64) *float64 {
	return RoundPtr(v, CoordinateScale)
}

// KnotsToKmh converts a speed in knots to km/h rounded to 2 decimal places.
func KnotsToKmh(knots *float64) *float64 {
	if knots == nil {
		return nil
	}
	if !finite(knots) {
		v := *knots
		return &v
	}
	f, _ := decimal.NewFromFloat(*knots).Mul(knotsToKmh).Round(SpeedScale).Float64()
	return &f
}

// SensorScale returns the decimal places kept for a sensor type.
func SensorScale(t models.SensorType) int32 {
	switch t {
	case models.SensorTemperature, models.SensorFuel, models.SensorBattery:
		return 1
	case models.SensorPressure, models.SensorWeight:
		return 2
	default:
		return DefaultSensorScale
	}
}

// SensorValue rounds a sensor reading to its type's scale.
func SensorValue(t models.SensorType, v *float64) *float64 {
	return RoundPtr(v, SensorScale(t))
}

// FormatInstant renders t as an ISO-8601 UTC instant, e.g. 2026-03-01T12:00:00Z.
// The zero time renders as "".
func FormatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// finite reports whether v is nil or a finite number.
func finite(v *float64) bool {
	return v == nil || (!math.IsNaN(*v) && !math.IsInf(*v, 0))
}
