// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

// Package retry provides the retry/backoff policy shared by the sync engine and the
// command dispatcher.
//
// A Policy answers three questions: is this error worth retrying (Classify), may another
// attempt be made (ShouldRetry), and how long to wait before it (Delay). Do runs an
// operation under the policy using cenkalti/backoff with a timer driven by the policy's
// clock, so tests can advance time instead of sleeping.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tomtom215/fleetbridge/internal/clock"
)

// ErrAttemptsExhausted is returned (wrapped with the last error) when every attempt failed.
var ErrAttemptsExhausted = errors.New("max retry attempts reached")

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Policy describes a bounded exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// MaxDelay caps a single delay. Zero means uncapped.
	MaxDelay time.Duration
	Classify Classifier
	Clock    clock.Clock
}

// DefaultPolicy returns 3 attempts, 1s base delay, 2x multiplier.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Classify:    IsRetryable,
		Clock:       clock.Real(),
	}
}

// Delay returns the wait before the attempt following attempt n (1-based):
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Retryable applies the policy's classifier (IsRetryable when unset).
func (p Policy) Retryable(err error) bool {
	if p.Classify == nil {
		return IsRetryable(err)
	}
	return p.Classify(err)
}

// ShouldRetry reports whether another attempt may follow failed attempt n.
func (p Policy) ShouldRetry(n int, err error) bool {
	return err != nil && n < p.MaxAttempts && p.Retryable(err)
}

func (p Policy) clock() clock.Clock {
	if p.Clock == nil {
		return clock.Real()
	}
	return p.Clock
}

// Notify is called before each wait with the failed attempt number, its error and the delay.
type Notify func(attempt int, err error, next time.Duration)

// Do runs fn until it succeeds, returns a non-retryable error, the attempts are exhausted,
// or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.DoNotify(ctx, fn, nil)
}

// DoNotify is Do with a callback invoked before every backoff wait.
func (p Policy) DoNotify(ctx context.Context, fn func(ctx context.Context) error, notify Notify) error {
	b := &attemptBackOff{policy: p}
	attempts := 0
	var lastErr error

	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, next time.Duration) { notify(attempts, err, next) }
	}

	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(b, ctx), onRetry, &clockTimer{clock: p.clock()})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if lastErr != nil && attempts >= p.MaxAttempts && p.Retryable(lastErr) {
		return fmt.Errorf("%w (%d attempts): %w", ErrAttemptsExhausted, attempts, lastErr)
	}
	return err
}

// attemptBackOff adapts Policy to backoff.BackOff.
type attemptBackOff struct {
	policy  Policy
	attempt int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	return b.policy.Delay(b.attempt)
}

func (b *attemptBackOff) Reset() { b.attempt = 0 }

// clockTimer adapts clock.Clock to backoff.Timer.
type clockTimer struct {
	clock clock.Clock
	timer clock.Timer
	ch    chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	ch := make(chan time.Time, 1)
	t.ch = ch
	c := t.clock
	t.timer = c.AfterFunc(d, func() { ch <- c.Now() })
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time { return t.ch }
