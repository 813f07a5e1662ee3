// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package transform

import (
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Well-known provider attribute keys (Traccar naming).
const (
	AttrBattery      = "battery"
	AttrBatteryLevel = "batteryLevel"
	AttrFuel         = "fuel"
	AttrIgnition     = "ignition"
	AttrMotion       = "motion"
	AttrOdometer     = "odometer"
	AttrTemperature  = "temperature"
	AttrTemp1        = "temp1"
	AttrDeviceTemp   = "deviceTemp"
	AttrHours        = "hours"
	AttrWeight       = "weight"
	AttrPressure     = "pressure"
	AttrHumidity     = "humidity"
	AttrAlarm        = "alarm"
	AttrResult       = "result"
)

// Attributes is a provider attribute bag with typed accessors. Every accessor returns
// ok == false when the key is absent or its value cannot be read as the requested type.
type Attributes map[string]any

// Float reads a numeric attribute. Numbers encoded as strings are accepted.
func (a Attributes) Float(key string) (float64, bool) {
	v, present := a[key]
	if !present || v == nil {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int reads an integral attribute. Fractional numbers are unset rather than truncated.
func (a Attributes) Int(key string) (int64, bool) {
	f, ok := a.Float(key)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// Bool reads a boolean attribute. "true"/"false" strings and 0/1 numbers are accepted.
func (a Attributes) Bool(key string) (bool, bool) {
	v, present := a[key]
	if !present || v == nil {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	}
	if f, ok := a.Float(key); ok {
		switch f {
		case 0:
			return false, true
		case 1:
			return true, true
		}
	}
	return false, false
}

// String reads a string attribute. Non-string values are unset.
func (a Attributes) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// floatPtr returns the attribute as a pointer, nil when unset.
func (a Attributes) floatPtr(key string) *float64 {
	if f, ok := a.Float(key); ok {
		return &f
	}
	return nil
}

func (a Attributes) boolPtr(key string) *bool {
	if b, ok := a.Bool(key); ok {
		return &b
	}
	return nil
}

// Battery returns the battery voltage.
func (a Attributes) Battery() (float64, bool) { return a.Float(AttrBattery) }

// BatteryLevel returns the battery charge percentage.
func (a Attributes) BatteryLevel() (float64, bool) { return a.Float(AttrBatteryLevel) }

// Fuel returns the fuel level.
func (a Attributes) Fuel() (float64, bool) { return a.Float(AttrFuel) }

// Ignition returns the ignition state.
func (a Attributes) Ignition() (bool, bool) { return a.Bool(AttrIgnition) }

// Motion returns the motion flag.
func (a Attributes) Motion() (bool, bool) { return a.Bool(AttrMotion) }

// Odometer returns the odometer reading in meters.
func (a Attributes) Odometer() (float64, bool) { return a.Float(AttrOdometer) }

// Temperature returns the first temperature reading present, checking the generic key
// before the numbered and device-internal ones.
func (a Attributes) Temperature() (float64, bool) {
	for _, key := range []string{AttrTemperature, AttrTemp1, AttrDeviceTemp} {
		if f, ok := a.Float(key); ok {
			return f, true
		}
	}
	return 0, false
}

// Hours returns engine hours. Providers report the counter in milliseconds.
func (a Attributes) Hours() (float64, bool) {
	ms, ok := a.Float(AttrHours)
	if !ok {
		return 0, false
	}
	return ms / 3_600_000, true
}

// Weight returns the load weight.
func (a Attributes) Weight() (float64, bool) { return a.Float(AttrWeight) }

// Pressure returns the pressure reading.
func (a Attributes) Pressure() (float64, bool) { return a.Float(AttrPressure) }

// Humidity returns relative humidity.
func (a Attributes) Humidity() (float64, bool) { return a.Float(AttrHumidity) }
