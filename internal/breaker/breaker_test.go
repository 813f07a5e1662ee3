// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/fleetbridge/internal/metrics"
)

var errBoom = errors.New("boom")

func TestNew_TripsOnFailureRatio(t *testing.T) {
	cb := New("test-trip", Settings{MinRequests: 4, Timeout: time.Hour})

	fail := func() (interface{}, error) { return nil, errBoom }
	ok := func() (interface{}, error) { return "ok", nil }

	// 1 success + 3 failures = 75% over 4 requests.
	if _, err := Execute(cb, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := Execute(cb, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}

	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	_, err := Execute(cb, ok)
	if !IsRejected(err) {
		t.Errorf("err = %v, want rejection while open", err)
	}

	if got := testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test-trip")); got != 2 {
		t.Errorf("state gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("test-trip", "rejected")); got != 1 {
		t.Errorf("rejected counter = %v, want 1", got)
	}
}

func TestNew_StaysClosedBelowMinRequests(t *testing.T) {
	cb := New("test-min", Settings{})

	for i := 0; i < 9; i++ {
		_, _ = Execute(cb, func() (interface{}, error) { return nil, errBoom })
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed before 10 requests", cb.State())
	}
}

func TestNew_IsSuccessfulExcludesErrors(t *testing.T) {
	errIgnored := errors.New("ignored")
	cb := New("test-success", Settings{
		MinRequests:  2,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errIgnored) },
	})

	for i := 0; i < 5; i++ {
		_, _ = Execute(cb, func() (interface{}, error) { return nil, errIgnored })
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed when errors are classified successful", cb.State())
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[gobreaker.State]string{
		gobreaker.StateClosed:   "closed",
		gobreaker.StateHalfOpen: "half-open",
		gobreaker.StateOpen:     "open",
		gobreaker.State(99):     "unknown",
	}
	for state, want := range tests {
		if got := StateString(state); got != want {
			t.Errorf("StateString(%d) = %q, want %q", state, got, want)
		}
	}
}
