// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package transform converts provider-native records into internal fleet events.

Every function is pure. Numeric conventions:

  - Coordinates: 6 decimal places, round half up
  - Speed: knots * 1.852 = km/h, 2 decimal places, round half up
  - Sensors: temperature, fuel and battery use 1 decimal place; pressure, weight and
    everything else use 2
  - Timestamps: UTC, rendered as ISO-8601 instants

Rounding is done with shopspring/decimal on the shortest decimal representation of the
float, so 1.005 rounds to 1.01 rather than to the binary neighbour 1.00.

A nil input always produces a nil output. Zero is never substituted for a missing value.

Provider attribute bags are untyped; Attributes exposes typed accessors that report
"unset" (ok == false) for absent or unparseable keys instead of guessing.
*/
package transform
