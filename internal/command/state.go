// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package command

import (
	"time"

	"github.com/tomtom215/fleetbridge/internal/events"
)

// State is a command lifecycle state.
type State string

const (
	StatePending      State = "PENDING"
	StateSent         State = "SENT"
	StateAcknowledged State = "ACKNOWLEDGED"
	StateExecuting    State = "EXECUTING"
	StateExecuted     State = "EXECUTED"
	StateFailed       State = "FAILED"
	StateTimeout      State = "TIMEOUT"
	StateCancelled    State = "CANCELLED"
	StateRetry        State = "RETRY"
)

// transitions is the legal edge set. FAILED and TIMEOUT leave only towards RETRY, and
// only while the command is not Final.
var transitions = map[State][]State{
	StatePending:      {StateSent, StateFailed, StateCancelled},
	StateSent:         {StateAcknowledged, StateFailed, StateTimeout, StateCancelled},
	StateAcknowledged: {StateExecuting, StateFailed},
	StateExecuting:    {StateExecuted, StateFailed},
	StateFailed:       {StateRetry},
	StateTimeout:      {StateRetry},
	StateRetry:        {StateSent, StateFailed, StateCancelled},
	StateExecuted:     nil,
	StateCancelled:    nil,
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// successPath orders the states a healthy command walks through after PENDING.
var successPath = []State{StateSent, StateAcknowledged, StateExecuting, StateExecuted}

func pathIndex(s State) int {
	for i, p := range successPath {
		if p == s {
			return i
		}
	}
	return -1
}

// eventTypes maps states to the lifecycle event emitted on entry. PENDING emits nothing.
var eventTypes = map[State]string{
	StateSent:         events.TypeCommandSent,
	StateAcknowledged: events.TypeCommandAcknowledged,
	StateExecuting:    events.TypeCommandExecuting,
	StateExecuted:     events.TypeCommandExecuted,
	StateFailed:       events.TypeCommandFailed,
	StateTimeout:      events.TypeCommandTimeout,
	StateRetry:        events.TypeCommandRetry,
	StateCancelled:    events.TypeCommandCancelled,
}

// Transition is one entry of a command's state history.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Command is a device command and its lifecycle.
type Command struct {
	ID               string         `json:"id"`
	DeviceID         string         `json:"deviceId"`
	CompanyID        string         `json:"companyId"`
	ProviderDeviceID int64          `json:"providerDeviceId"`
	Type             string         `json:"type"`
	Description      string         `json:"description,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`

	State      State `json:"state"`
	RetryCount int   `json:"retryCount"`
	MaxRetries int   `json:"maxRetries"`
	// Retryable is false for command types that must never be re-sent automatically.
	Retryable bool `json:"retryable"`
	// Final marks a FAILED or TIMEOUT command for which no retry will follow.
	Final bool `json:"final"`
	// SendAttempts counts calls to the provider send endpoint.
	SendAttempts      int    `json:"sendAttempts"`
	ProviderCommandID int64  `json:"providerCommandId,omitempty"`
	LastError         string `json:"lastError,omitempty"`
	Result            string `json:"result,omitempty"`

	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	AckDeadline   time.Time `json:"ackDeadline,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`

	History []Transition `json:"history"`
}

// IsTerminal reports whether no further transition is permitted.
func (c *Command) IsTerminal() bool {
	switch c.State {
	case StateExecuted, StateCancelled:
		return true
	case StateFailed, StateTimeout:
		return c.Final
	default:
		return false
	}
}

// Clone returns a deep copy.
func (c *Command) Clone() *Command {
	out := *c
	if c.Attributes != nil {
		out.Attributes = make(map[string]any, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	out.History = append([]Transition(nil), c.History...)
	return &out
}
