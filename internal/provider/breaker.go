// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package provider

import (
	"context"
	"errors"
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/fleetbridge/internal/breaker"
	"github.com/tomtom215/fleetbridge/internal/models"
)

var _ Client = (*BreakerClient)(nil)

// BreakerClient wraps a Client with a circuit breaker.
//
// Only transport errors count as failures: a device rejecting a command or bad
// credentials say nothing about provider availability. While open, calls fail fast
// with a transport *Error wrapping gobreaker.ErrOpenState.
type BreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerClient wraps client with a breaker named "provider-api".
func NewBreakerClient(client Client) *BreakerClient {
	return NewBreakerClientWithSettings(client, breaker.Settings{})
}

// NewBreakerClientWithSettings wraps client with custom breaker settings.
func NewBreakerClientWithSettings(client Client, s breaker.Settings) *BreakerClient {
	s.IsSuccessful = func(err error) bool {
		return err == nil || !IsTransport(err) || errors.Is(err, context.Canceled)
	}
	return &BreakerClient{
		client: client,
		cb:     breaker.New("provider-api", s),
	}
}

// State returns the breaker state name.
func (b *BreakerClient) State() string {
	return breaker.StateString(b.cb.State())
}

// execute runs fn through the breaker, converting rejections to transport errors.
func execute[T any](b *BreakerClient, op string, fn func() (T, error)) (T, error) {
	result, err := breaker.Execute(b.cb, func() (interface{}, error) {
		return fn()
	})
	var zero T
	if err != nil {
		if breaker.IsRejected(err) {
			return zero, &Error{Kind: KindTransport, Op: op, Err: err}
		}
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func (b *BreakerClient) Devices(ctx context.Context) ([]models.ProviderDevice, error) {
	return execute(b, "devices", func() ([]models.ProviderDevice, error) { return b.client.Devices(ctx) })
}

func (b *BreakerClient) Positions(ctx context.Context, q PositionQuery) ([]models.ProviderPosition, error) {
	return execute(b, "positions", func() ([]models.ProviderPosition, error) { return b.client.Positions(ctx, q) })
}

func (b *BreakerClient) Events(ctx context.Context, q EventQuery) ([]models.ProviderEvent, error) {
	return execute(b, "events", func() ([]models.ProviderEvent, error) { return b.client.Events(ctx, q) })
}

func (b *BreakerClient) SendCommand(ctx context.Context, req CommandRequest) (*models.ProviderCommand, error) {
	return execute(b, "send_command", func() (*models.ProviderCommand, error) { return b.client.SendCommand(ctx, req) })
}

func (b *BreakerClient) CommandTypes(ctx context.Context, deviceID int64) ([]models.ProviderCommandType, error) {
	return execute(b, "command_types", func() ([]models.ProviderCommandType, error) { return b.client.CommandTypes(ctx, deviceID) })
}

func (b *BreakerClient) ServerInfo(ctx context.Context) (*models.ProviderServerInfo, error) {
	return execute(b, "server_info", func() (*models.ProviderServerInfo, error) { return b.client.ServerInfo(ctx) })
}
