// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/fleetbridge/internal/breaker"
	"github.com/tomtom215/fleetbridge/internal/metrics"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher delivers envelopes to the event bus. Publish is synchronous: it returns
// only once the transport has accepted or rejected the message.
type Publisher interface {
	Publish(ctx context.Context, topic string, env *Envelope) error
	Close() error
}

// WatermillPublisher adapts a Watermill publisher to Publisher with optional circuit
// breaker protection.
type WatermillPublisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	mu             sync.RWMutex
	closed         bool
}

// NewWatermillPublisher wraps pub.
func NewWatermillPublisher(pub message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: pub}
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *WatermillPublisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[interface{}]) {
	p.circuitBreaker = cb
}

// Publish serializes env and sends it to topic. The envelope id becomes both the
// Watermill message UUID and the Nats-Msg-Id used for broker-side deduplication.
func (p *WatermillPublisher) Publish(ctx context.Context, topic string, env *Envelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Marshal(env)
	if err != nil {
		return err
	}

	msg := message.NewMessage(env.EventID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set(natsgo.MsgIdHdr, env.EventID)
	msg.Metadata.Set("event_type", env.EventType)
	msg.Metadata.Set("source", env.Source)
	if env.DeviceID != "" {
		msg.Metadata.Set("device_id", env.DeviceID)
	}
	if env.CompanyID != "" {
		msg.Metadata.Set("company_id", env.CompanyID)
	}

	if p.circuitBreaker != nil {
		_, err = breaker.Execute(p.circuitBreaker, func() (interface{}, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
	} else {
		err = p.publisher.Publish(topic, msg)
	}

	metrics.RecordPublish(topic, err)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", env.EventID, topic, err)
	}
	return nil
}

// Close shuts down the underlying publisher. Safe to call more than once.
func (p *WatermillPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
