// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package provider

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindAuth      ErrorKind = "auth"
	KindSemantic  ErrorKind = "semantic"
	KindNotFound  ErrorKind = "not_found"
)

// ErrDegraded marks results served by FallbackClient while the provider is unavailable.
var ErrDegraded = errors.New("provider degraded")

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %s: %s error", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Only transport errors are.
func (e *Error) Retryable() bool { return e.Kind == KindTransport }

// KindOf returns the kind of a provider error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsSemantic reports whether the provider rejected the request itself.
func IsSemantic(err error) bool {
	k := KindOf(err)
	return k == KindSemantic || k == KindNotFound
}

// kindForStatus maps a non-2xx status to an error kind.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return KindTransport
	default:
		return KindSemantic
	}
}
