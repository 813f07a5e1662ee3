// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
manager.go - Sync Scheduling

This file contains the manager that drives periodic sync cycles on the sync worker
pool, one timer loop per stream driven by the engine clock.

Lifecycle Methods:
  - NewManager(): bind an engine to a pool with the configured intervals
  - Serve(): run the timer loops until the context is cancelled (suture.Service)
  - TriggerSync(): queue an immediate cycle for one stream
  - Freshness(): sync health for the operational endpoints

Scheduling:
  - Each tick submits at most one cycle per stream. A tick that finds the previous
    cycle still queued or running is skipped.
  - Cycles run with the pool task context, so shutdown lets them finish until the
    pool grace period expires.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

// Manager schedules sync cycles.
type Manager struct {
	engine    *Engine
	pool      *workerpool.Pool
	clock     clock.Clock
	enabled   bool
	intervals map[string]time.Duration
	queued    map[string]*atomic.Bool
}

// NewManager creates a manager. When cfg.Enabled is false Serve runs no loops but
// TriggerSync still works.
func NewManager(engine *Engine, pool *workerpool.Pool, cfg config.SyncConfig) *Manager {
	m := &Manager{
		engine:  engine,
		pool:    pool,
		clock:   engine.clock,
		enabled: cfg.Enabled,
		intervals: map[string]time.Duration{
			StreamPositions: cfg.PositionsInterval,
			StreamEvents:    cfg.EventsInterval,
			StreamDevices:   cfg.DevicesInterval,
		},
		queued: make(map[string]*atomic.Bool, len(Streams)),
	}
	for _, s := range Streams {
		m.queued[s] = &atomic.Bool{}
	}
	return m
}

// String implements fmt.Stringer for suture logging.
func (m *Manager) String() string { return "sync-manager" }

// Engine returns the underlying engine.
func (m *Manager) Engine() *Engine { return m.engine }

// Serve runs one timer loop per stream until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	if !m.enabled {
		logging.Info().Msg("Periodic sync disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	var wg sync.WaitGroup
	for _, s := range Streams {
		wg.Add(1)
		go func(stream string) {
			defer wg.Done()
			m.syncLoop(ctx, stream)
		}(s)
	}
	logging.Info().
		Dur("positions", m.intervals[StreamPositions]).
		Dur("events", m.intervals[StreamEvents]).
		Dur("devices", m.intervals[StreamDevices]).
		Msg("Sync manager started")

	wg.Wait()
	return ctx.Err()
}

func (m *Manager) syncLoop(ctx context.Context, stream string) {
	m.schedule(stream)

	interval := m.intervals[stream]
	for {
		tick := make(chan struct{})
		timer := m.clock.AfterFunc(interval, func() { close(tick) })
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-tick:
			m.schedule(stream)
		}
	}
}

func (m *Manager) schedule(stream string) {
	err := m.submit(stream)
	switch {
	case err == nil:
	case errors.Is(err, ErrCycleInProgress):
		logging.Debug().Str("stream", stream).Msg("Previous sync cycle still running, skipping tick")
	default:
		logging.Warn().Err(err).Str("stream", stream).Msg("Failed to schedule sync cycle")
	}
}

// TriggerSync queues an immediate cycle for stream. It returns ErrCycleInProgress if a
// cycle is already queued or running, and the pool error if the pool refuses the task.
func (m *Manager) TriggerSync(stream string) error {
	if !ValidStream(stream) {
		return fmt.Errorf("%w: %q", ErrUnknownStream, stream)
	}
	return m.submit(stream)
}

func (m *Manager) submit(stream string) error {
	if m.engine.Running(stream) {
		return fmt.Errorf("%s: %w", stream, ErrCycleInProgress)
	}
	queued := m.queued[stream]
	if !queued.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", stream, ErrCycleInProgress)
	}
	err := m.pool.Submit(func(ctx context.Context) {
		queued.Store(false)
		if _, err := m.engine.RunSyncCycle(ctx, stream); errors.Is(err, ErrCycleInProgress) {
			logging.Debug().Str("stream", stream).Msg("Sync cycle already running")
		}
	})
	if err != nil {
		queued.Store(false)
		return err
	}
	return nil
}

// Freshness reports sync health.
func (m *Manager) Freshness(streams ...string) Freshness {
	return m.engine.Freshness(streams...)
}
