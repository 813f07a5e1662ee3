// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/fleetbridge/internal/clock"
)

var errTransport = errors.New("connection refused")

func fakePolicy(c *clock.Fake) Policy {
	p := DefaultPolicy()
	p.Clock = c
	return p
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	if p.MaxAttempts != 3 || p.BaseDelay != time.Second || p.Multiplier != 2 {
		t.Errorf("DefaultPolicy() = %+v, want 3 attempts / 1s / 2x", p)
	}
}

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	tests := []struct {
		name    string
		attempt int
		err     error
		want    bool
	}{
		{"transport first attempt", 1, errTransport, true},
		{"transport last attempt", 3, errTransport, false},
		{"permanent", 1, Permanent(errTransport), false},
		{"cancelled", 1, context.Canceled, false},
		{"nil error", 1, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := p.ShouldRetry(tt.attempt, tt.err); got != tt.want {
				t.Errorf("ShouldRetry(%d, %v) = %v, want %v", tt.attempt, tt.err, got, tt.want)
			}
		})
	}
}

func TestPolicy_DoSucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := fakePolicy(c)

	var calls atomic.Int32
	var delays []time.Duration
	done := make(chan error, 1)
	go func() {
		done <- p.DoNotify(context.Background(), func(context.Context) error {
			if calls.Add(1) < 3 {
				return errTransport
			}
			return nil
		}, func(_ int, _ error, next time.Duration) { delays = append(delays, next) })
	}()

	for i := 0; i < 2; i++ {
		if !c.WaitForTimers(1, time.Second) {
			t.Fatalf("backoff timer %d never scheduled", i+1)
		}
		c.Advance(time.Minute)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not return")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v, want [1s 2s]", delays)
	}
}

func TestPolicy_DoExhausts(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := fakePolicy(c)

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(context.Context) error {
			calls.Add(1)
			return errTransport
		})
	}()

	for i := 0; i < 2; i++ {
		if !c.WaitForTimers(1, time.Second) {
			t.Fatalf("backoff timer %d never scheduled", i+1)
		}
		c.Advance(time.Minute)
	}

	err := <-done
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("error = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, errTransport) {
		t.Errorf("error = %v, want wrapped transport error", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPolicy_DoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	p := fakePolicy(clock.NewFake(time.Now()))
	rejected := errors.New("device does not support command")

	var calls int
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(rejected)
	})

	if !errors.Is(err, rejected) {
		t.Errorf("error = %v, want %v", err, rejected)
	}
	if errors.Is(err, ErrAttemptsExhausted) {
		t.Error("permanent error must not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicy_DoCancelledDuringWait(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(time.Now())
	p := fakePolicy(c)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error { return errTransport })
	}()

	if !c.WaitForTimers(1, time.Second) {
		t.Fatal("backoff timer never scheduled")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() ignored cancellation")
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	wrapped := errors.Join(errors.New("publish"), Permanent(errTransport))
	if IsRetryable(wrapped) {
		t.Error("joined permanent error should not be retryable")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("deadline exceeded is a transport timeout and should be retryable")
	}
}
