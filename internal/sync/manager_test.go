// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

func waitForCycles(t *testing.T, e *Engine, stream string, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, st := range e.Status() {
			if st.Stream == stream && st.Cycles >= n {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream %s did not complete %d cycles", stream, n)
}

func TestManager_TriggerSync(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	pool := workerpool.New("sync-test", 1, 4)
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	m := NewManager(h.engine, pool, testSyncConfig())

	if err := m.TriggerSync(StreamEvents); err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	waitForCycles(t, h.engine, StreamEvents, 1)

	if err := m.TriggerSync("trips"); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("TriggerSync(trips) error = %v, want ErrUnknownStream", err)
	}
}

func TestManager_TriggerSyncInProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	h.client.devices = []models.ProviderDevice{{ID: 1}}
	h.client.entered = make(chan struct{})
	h.client.release = make(chan struct{})
	pool := workerpool.New("sync-test", 2, 4)
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	m := NewManager(h.engine, pool, testSyncConfig())

	if err := m.TriggerSync(StreamPositions); err != nil {
		t.Fatalf("TriggerSync() error = %v", err)
	}
	<-h.client.entered

	if err := m.TriggerSync(StreamPositions); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("second TriggerSync() error = %v, want ErrCycleInProgress", err)
	}

	close(h.client.release)
	waitForCycles(t, h.engine, StreamPositions, 1)
}

func TestManager_TriggerSyncPoolFull(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	pool := workerpool.New("sync-test", 1, 0)
	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	m := NewManager(h.engine, pool, testSyncConfig())

	if err := m.TriggerSync(StreamDevices); !errors.Is(err, workerpool.ErrPoolClosed) {
		t.Fatalf("TriggerSync() error = %v, want ErrPoolClosed", err)
	}
	// A refused submit must not leave the stream marked as queued.
	pool2 := workerpool.New("sync-test-2", 1, 1)
	t.Cleanup(func() { _ = pool2.Shutdown(time.Second) })
	m.pool = pool2
	if err := m.TriggerSync(StreamDevices); err != nil {
		t.Errorf("TriggerSync() after refusal error = %v", err)
	}
	waitForCycles(t, h.engine, StreamDevices, 1)
}

func TestManager_ServeRunsEveryStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	pool := workerpool.New("sync-test", 3, 6)
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	m := NewManager(h.engine, pool, testSyncConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	for _, s := range Streams {
		waitForCycles(t, h.engine, s, 1)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestManager_ServeTicksOnEngineClock(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	pool := workerpool.New("sync-test", 3, 6)
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	m := NewManager(h.engine, pool, testSyncConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	waitForCycles(t, h.engine, StreamPositions, 1)
	if !h.clk.WaitForTimers(len(Streams), 2*time.Second) {
		t.Fatalf("pending timers = %d, want %d", h.clk.Pending(), len(Streams))
	}
	// Nothing runs again until the fake clock reaches the interval.
	time.Sleep(20 * time.Millisecond)
	for _, st := range h.engine.Status() {
		if st.Stream == StreamPositions && st.Cycles != 1 {
			t.Fatalf("positions cycles = %d before the interval elapsed, want 1", st.Cycles)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.clk.Advance(time.Minute)
		var cycles int64
		for _, st := range h.engine.Status() {
			if st.Stream == StreamPositions {
				cycles = st.Cycles
			}
		}
		if cycles >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("positions cycles = %d after advancing the clock, want >= 2", cycles)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestManager_ServeDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	pool := workerpool.New("sync-test", 1, 1)
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	cfg := testSyncConfig()
	cfg.Enabled = false
	m := NewManager(h.engine, pool, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() error = %v", err)
	}
	for _, st := range h.engine.Status() {
		if st.Cycles != 0 {
			t.Errorf("stream %s ran %d cycles with sync disabled", st.Stream, st.Cycles)
		}
	}
}
