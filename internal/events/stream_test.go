// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// mockJetStream records calls; streams are returned as nil handles.
type mockJetStream struct {
	mu        sync.Mutex
	exists    bool
	streamErr error
	createErr error
	updateErr error
	created   []jetstream.StreamConfig
	updated   []jetstream.StreamConfig
}

func (m *mockJetStream) Stream(ctx context.Context, name string) (jetstream.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	if !m.exists {
		return nil, jetstream.ErrStreamNotFound
	}
	return nil, nil
}

func (m *mockJetStream) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, cfg)
	m.exists = true
	return nil, nil
}

func (m *mockJetStream) UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.updated = append(m.updated, cfg)
	return nil, nil
}

func testStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            "FLEET",
		Subjects:        []string{"fleet.>"},
		MaxAge:          24 * time.Hour,
		DuplicateWindow: 2 * time.Hour,
	}
}

func TestNewStreamInitializer_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewStreamInitializer(nil, testStreamConfig()); err == nil {
		t.Error("nil JetStream should fail")
	}
	if _, err := NewStreamInitializer(&mockJetStream{}, StreamConfig{Name: "FLEET"}); err == nil {
		t.Error("missing subjects should fail")
	}
}

func TestStreamInitializer_EnsureStream(t *testing.T) {
	t.Parallel()

	js := &mockJetStream{}
	si, err := NewStreamInitializer(js, testStreamConfig())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := si.EnsureStream(context.Background()); err != nil {
		t.Fatalf("first EnsureStream: %v", err)
	}
	if len(js.created) != 1 || len(js.updated) != 0 {
		t.Fatalf("created=%d updated=%d, want 1/0", len(js.created), len(js.updated))
	}
	cfg := js.created[0]
	if cfg.Duplicates != 2*time.Hour || cfg.Storage != jetstream.FileStorage || cfg.Retention != jetstream.LimitsPolicy {
		t.Errorf("stream config = %+v", cfg)
	}

	if _, err := si.EnsureStream(context.Background()); err != nil {
		t.Fatalf("second EnsureStream: %v", err)
	}
	if len(js.created) != 1 || len(js.updated) != 1 {
		t.Errorf("idempotent call: created=%d updated=%d, want 1/1", len(js.created), len(js.updated))
	}
	if !si.IsHealthy(context.Background()) {
		t.Error("stream should be healthy once created")
	}
}

func TestStreamInitializer_EnsureStreamErrors(t *testing.T) {
	t.Parallel()

	errBroker := errors.New("broker unavailable")
	tests := []struct {
		name string
		js   *mockJetStream
	}{
		{"lookup fails", &mockJetStream{streamErr: errBroker}},
		{"create fails", &mockJetStream{createErr: errBroker}},
		{"update fails", &mockJetStream{exists: true, updateErr: errBroker}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			si, _ := NewStreamInitializer(tt.js, testStreamConfig())
			if _, err := si.EnsureStream(context.Background()); !errors.Is(err, errBroker) {
				t.Errorf("err = %v, want wrapped broker error", err)
			}
		})
	}

	unhealthy, _ := NewStreamInitializer(&mockJetStream{}, testStreamConfig())
	if unhealthy.IsHealthy(context.Background()) {
		t.Error("missing stream should be unhealthy")
	}
}
