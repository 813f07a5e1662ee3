// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package events

// Topics, one per record kind. All live under the fleet.> subject space.
const (
	TopicLocation         = "fleet.device.location"
	TopicSensor           = "fleet.device.sensor"
	TopicHealth           = "fleet.device.health"
	TopicConnectionStatus = "fleet.device.connection"

	TopicCommandSent         = "fleet.command.sent"
	TopicCommandAcknowledged = "fleet.command.acknowledged"
	TopicCommandExecuting    = "fleet.command.executing"
	TopicCommandExecuted     = "fleet.command.executed"
	TopicCommandFailed       = "fleet.command.failed"
	TopicCommandRetry        = "fleet.command.retry"
	TopicCommandTimeout      = "fleet.command.timeout"
	TopicCommandCancelled    = "fleet.command.cancelled"
)

// Event types carried in Envelope.EventType.
const (
	TypeLocationUpdated  = "device.location.updated"
	TypeSensorReading    = "device.sensor.reading"
	TypeDeviceHealth     = "device.health"
	TypeConnectionStatus = "device.connection.changed"

	TypeCommandSent         = "command.sent"
	TypeCommandAcknowledged = "command.acknowledged"
	TypeCommandExecuting    = "command.executing"
	TypeCommandExecuted     = "command.executed"
	TypeCommandFailed       = "command.failed"
	TypeCommandRetry        = "command.retry"
	TypeCommandTimeout      = "command.timeout"
	TypeCommandCancelled    = "command.cancelled"
)

// TopicForType maps an event type to its topic. Unknown types return "".
func TopicForType(eventType string) string {
	switch eventType {
	case TypeLocationUpdated:
		return TopicLocation
	case TypeSensorReading:
		return TopicSensor
	case TypeDeviceHealth:
		return TopicHealth
	case TypeConnectionStatus:
		return TopicConnectionStatus
	case TypeCommandSent:
		return TopicCommandSent
	case TypeCommandAcknowledged:
		return TopicCommandAcknowledged
	case TypeCommandExecuting:
		return TopicCommandExecuting
	case TypeCommandExecuted:
		return TopicCommandExecuted
	case TypeCommandFailed:
		return TopicCommandFailed
	case TypeCommandRetry:
		return TopicCommandRetry
	case TypeCommandTimeout:
		return TopicCommandTimeout
	case TypeCommandCancelled:
		return TopicCommandCancelled
	default:
		return ""
	}
}
