// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package events

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/fleetbridge/internal/breaker"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/logging"
)

// Bus owns the event transport: publisher, NATS connection and optional embedded server.
type Bus struct {
	publisher *WatermillPublisher
	channel   *gochannel.GoChannel
	server    *EmbeddedServer
	conn      *natsgo.Conn
	stream    *StreamInitializer
}

// Open wires the transport described by cfg. With NATS disabled the bus is an
// in-process GoChannel.
func Open(ctx context.Context, cfg *config.NATSConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	if !cfg.Enabled {
		pub, ch := NewChannelPublisher(logger)
		logging.Info().Msg("Event bus: in-process channel (NATS disabled)")
		return &Bus{publisher: pub, channel: ch}, nil
	}

	b := &Bus{}
	clientURL := cfg.URL

	if cfg.EmbeddedServer {
		host, port, err := hostPort(cfg.URL)
		if err != nil {
			return nil, err
		}
		srv, err := NewEmbeddedServer(host, port, cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		b.server = srv
		clientURL = srv.ClientURL()
		logging.Info().Str("url", clientURL).Str("store_dir", cfg.StoreDir).Msg("Embedded NATS server started")
	}

	nc, err := natsgo.Connect(clientURL, natsgo.Name("fleetbridge-admin"))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("connect to NATS at %s: %w", clientURL, err)
	}
	b.conn = nc

	js, err := jetstream.New(nc)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b.stream, err = NewStreamInitializer(js, StreamConfig{
		Name:            cfg.StreamName,
		Subjects:        cfg.Subjects,
		MaxAge:          cfg.MaxAge,
		DuplicateWindow: cfg.DuplicateWindow,
	})
	if err != nil {
		b.Close()
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := b.stream.EnsureStream(initCtx); err != nil {
		b.Close()
		return nil, err
	}

	pub, err := NewNATSPublisher(NATSPublisherConfig{
		URL:           clientURL,
		MaxReconnects: cfg.MaxReconnects,
		ReconnectWait: cfg.ReconnectWait,
	}, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	pub.SetCircuitBreaker(breaker.New("nats-publisher", breaker.Settings{}))
	b.publisher = pub

	logging.Info().Str("stream", cfg.StreamName).Strs("subjects", cfg.Subjects).Msg("Event bus: NATS JetStream")
	return b, nil
}

// Publisher returns the bus publisher.
func (b *Bus) Publisher() Publisher { return b.publisher }

// Channel returns the in-process pub/sub, or nil when NATS is in use.
func (b *Bus) Channel() *gochannel.GoChannel { return b.channel }

// Healthy reports whether the transport can accept publishes.
func (b *Bus) Healthy(ctx context.Context) bool {
	if b.channel != nil {
		return true
	}
	if b.conn == nil || !b.conn.IsConnected() {
		return false
	}
	return b.stream.IsHealthy(ctx)
}

// Close releases the publisher, connection and embedded server in that order.
func (b *Bus) Close() error {
	var errs []error
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
	return errors.Join(errs...)
}

func hostPort(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse NATS URL %q: %w", rawURL, err)
	}
	port := 4222
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("parse NATS port %q: %w", p, err)
		}
	}
	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}
