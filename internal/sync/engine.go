// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
engine.go - Sync Cycle Execution

This file contains the sync engine and the batch bookkeeping shared by all streams.

Engine Components:
  - provider.Client: positions, events and device roster source
  - directory.Resolver: provider device id -> internal device and company
  - checkpoint.Store: per-stream watermark persistence
  - events.Builder / events.Publisher: envelope construction and delivery
  - CommandAcknowledger: receives provider commandResult events (optional)

Thread Safety:
  - locks: one mutex per stream, acquired with TryLock so cycles never queue
  - mu: protects per-stream status read by the health endpoints
  - roster: only touched by the devices cycle, under its stream lock
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/fleetbridge/internal/checkpoint"
	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/command"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/directory"
	"github.com/tomtom215/fleetbridge/internal/events"
	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/metrics"
	"github.com/tomtom215/fleetbridge/internal/provider"
	"github.com/tomtom215/fleetbridge/internal/stats"
)

// Sync streams.
const (
	StreamPositions = "positions"
	StreamEvents    = "events"
	StreamDevices   = "devices"
)

// Streams lists every stream in scheduling order.
var Streams = []string{StreamPositions, StreamEvents, StreamDevices}

var (
	// ErrCycleInProgress is returned when a cycle for the stream is already running.
	ErrCycleInProgress = errors.New("sync cycle already in progress")
	// ErrUnknownStream is returned for a stream name outside Streams.
	ErrUnknownStream = errors.New("unknown sync stream")

	errCheckpoint = errors.New("checkpoint")
)

// CommandAcknowledger receives command results reported by the provider.
type CommandAcknowledger interface {
	AcknowledgeDevice(ctx context.Context, providerDeviceID int64, result string) (*command.Command, error)
}

// Deps are the engine collaborators. Commands may be nil.
type Deps struct {
	Client      provider.Client
	Directory   directory.Resolver
	Checkpoints checkpoint.Store
	Publisher   events.Publisher
	Builder     *events.Builder
	Commands    CommandAcknowledger
	Clock       clock.Clock
	Errors      *stats.ErrorTracker
	Perf        *stats.PerfCounters
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	Stream    string               `json:"stream"`
	Fetched   int                  `json:"fetched"`
	Published int                  `json:"published"`
	Skipped   int                  `json:"skipped"`
	Filtered  int                  `json:"filtered"`
	Halted    bool                 `json:"halted"`  // processing stopped before the end of the batch
	Blocked   bool                 `json:"blocked"` // the checkpoint stopped short of the last record
	Previous  checkpoint.Watermark `json:"previous"`
	Watermark checkpoint.Watermark `json:"watermark"`
	Duration  time.Duration        `json:"duration"`
}

// Engine runs sync cycles.
type Engine struct {
	cfg         config.SyncConfig
	client      provider.Client
	directory   directory.Resolver
	checkpoints checkpoint.Store
	publisher   events.Publisher
	builder     *events.Builder
	commands    CommandAcknowledger
	clock       clock.Clock
	errs        *stats.ErrorTracker
	perf        *stats.PerfCounters
	started     time.Time

	locks map[string]*sync.Mutex

	mu     sync.RWMutex
	status map[string]*StreamStatus

	roster map[int64]string // provider device id -> last published status
}

// NewEngine creates an engine. Nil Clock, Errors and Perf get defaults.
func NewEngine(cfg config.SyncConfig, deps Deps) *Engine {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	errs := deps.Errors
	if errs == nil {
		errs = stats.NewErrorTracker(clk)
	}
	perf := deps.Perf
	if perf == nil {
		perf = stats.NewPerfCounters(clk)
	}
	e := &Engine{
		cfg:         cfg,
		client:      deps.Client,
		directory:   deps.Directory,
		checkpoints: deps.Checkpoints,
		publisher:   deps.Publisher,
		builder:     deps.Builder,
		commands:    deps.Commands,
		clock:       clk,
		errs:        errs,
		perf:        perf,
		started:     clk.Now(),
		locks:       make(map[string]*sync.Mutex, len(Streams)),
		status:      make(map[string]*StreamStatus, len(Streams)),
		roster:      make(map[int64]string),
	}
	for _, s := range Streams {
		e.locks[s] = &sync.Mutex{}
		e.status[s] = &StreamStatus{Stream: s}
	}
	return e
}

// ValidStream reports whether stream names a sync stream.
func ValidStream(stream string) bool {
	for _, s := range Streams {
		if s == stream {
			return true
		}
	}
	return false
}

// RunSyncCycle runs one cycle for stream. It fails fast with ErrCycleInProgress if a
// cycle for the same stream is running. A non-nil result is returned with every
// error except ErrUnknownStream and ErrCycleInProgress.
func (e *Engine) RunSyncCycle(ctx context.Context, stream string) (*CycleResult, error) {
	lock, ok := e.locks[stream]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, stream)
	}
	if !lock.TryLock() {
		return nil, fmt.Errorf("%s: %w", stream, ErrCycleInProgress)
	}
	defer lock.Unlock()

	start := e.clock.Now()
	e.markRunning(stream, start)

	res := &CycleResult{Stream: stream}
	var err error
	switch stream {
	case StreamPositions:
		err = e.syncPositions(ctx, res)
	case StreamEvents:
		err = e.syncEvents(ctx, res)
	case StreamDevices:
		err = e.syncDevices(ctx, res)
	}
	res.Duration = e.clock.Now().Sub(start)

	e.finish(res, err)
	return res, err
}

// finish records the cycle outcome in status, metrics and logs.
func (e *Engine) finish(res *CycleResult, err error) {
	stream := res.Stream
	log := logging.WithStream(stream)
	metrics.RecordSyncCycle(stream, res.Duration, res.Published, res.Skipped, err)
	e.perf.Inc("sync_cycles")
	e.perf.Observe("sync_cycle_"+stream, res.Duration)
	e.perf.Add("sync_records_published", int64(res.Published))

	errType := ""
	if err != nil {
		errType = cycleErrorType(err)
		e.errs.Record(errType, err)
		metrics.RecordSyncError(stream, errType)
		log.Warn().Err(err).Str("error_type", errType).Dur("duration", res.Duration).Msg("Sync cycle failed")
	} else {
		log.Debug().
			Int("fetched", res.Fetched).
			Int("published", res.Published).
			Int("skipped", res.Skipped).
			Int("filtered", res.Filtered).
			Bool("blocked", res.Blocked).
			Dur("duration", res.Duration).
			Msg("Sync cycle completed")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status[stream]
	st.Running = false
	st.Cycles++
	st.LastPublished = res.Published
	st.LastSkipped = res.Skipped
	st.Blocked = res.Blocked
	if !res.Watermark.IsZero() {
		st.Watermark = res.Watermark
	}
	if err != nil {
		st.LastError = err.Error()
		st.LastErrorType = errType
		st.AuthFailed = errType == stats.ErrorAuth
		st.Degraded = errType == stats.ErrorDegraded
		return
	}
	st.LastSuccess = e.clock.Now()
	st.LastError = ""
	st.LastErrorType = ""
	st.AuthFailed = false
	st.Degraded = false
}

func (e *Engine) markRunning(stream string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status[stream]
	st.Running = true
	st.LastAttempt = at
}

// cycleErrorType classifies a cycle-level error for the error summary.
func cycleErrorType(err error) string {
	switch {
	case errors.Is(err, provider.ErrDegraded):
		return stats.ErrorDegraded
	case provider.IsAuth(err):
		return stats.ErrorAuth
	case errors.Is(err, errCheckpoint):
		return stats.ErrorCheckpoint
	default:
		return stats.ErrorTransport
	}
}

// publish sends env to its topic and records the outcome.
func (e *Engine) publish(ctx context.Context, env *events.Envelope) error {
	topic := events.TopicForType(env.EventType)
	err := e.publisher.Publish(ctx, topic, env)
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.EventID, err)
	}
	e.perf.Inc("events_published")
	return nil
}

// batch tracks watermark progress through one fetched batch.
type batch struct {
	e      *Engine
	stream string
	res    *CycleResult
	saved  checkpoint.Checkpoint
	hwm    checkpoint.Watermark
	since  int64 // records advanced past since the last save
	frozen bool
}

// begin loads the stream checkpoint. The returned from time is where the fetch starts:
// the checkpoint time, or now minus the initial lookback for a new stream.
func (e *Engine) begin(ctx context.Context, stream string, res *CycleResult) (*batch, time.Time, error) {
	cp, err := e.checkpoints.Load(ctx, stream)
	if err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return nil, time.Time{}, fmt.Errorf("%w: load %s: %w", errCheckpoint, stream, err)
	}
	cp.Stream = stream
	b := &batch{e: e, stream: stream, res: res, saved: cp, hwm: cp.Watermark}
	res.Previous = cp.Watermark
	res.Watermark = cp.Watermark

	from := cp.Watermark.Time
	if cp.Watermark.IsZero() {
		from = e.clock.Now().Add(-e.cfg.InitialLookback)
	}
	return b, from, nil
}

// seen reports whether wm is at or before the persisted checkpoint.
func (b *batch) seen(wm checkpoint.Watermark) bool {
	return !wm.After(b.saved.Watermark)
}

// skip counts a failed record.
func (b *batch) skip(errType string, err error) {
	b.res.Skipped++
	b.e.errs.Record(errType, err)
	metrics.RecordSyncError(b.stream, errType)
}

// fail skips a record-specific failure; later records are still processed but the
// watermark no longer advances.
func (b *batch) fail(errType string, wm checkpoint.Watermark, err error) {
	b.skip(errType, err)
	b.frozen = true
	b.res.Blocked = true
	l := logging.WithStream(b.stream)
	l.Warn().Err(err).
		Str("error_type", errType).
		Time("record_time", wm.Time).
		Int64("record_id", wm.ID).
		Msg("Record skipped, checkpoint held")
}

// halt skips the record and stops the batch.
func (b *batch) halt(errType string, wm checkpoint.Watermark, err error) {
	b.fail(errType, wm, err)
	b.res.Halted = true
}

// advance moves the watermark past a processed record.
func (b *batch) advance(ctx context.Context, wm checkpoint.Watermark) error {
	if b.frozen || !wm.After(b.hwm) {
		return nil
	}
	b.hwm = wm
	b.since++
	if every := b.e.cfg.CheckpointEvery; every > 0 && b.since >= int64(every) {
		return b.save(ctx)
	}
	return nil
}

// cover moves the watermark to the end of a fully fetched window so an empty or
// exhausted window is not queried again.
func (b *batch) cover(wm checkpoint.Watermark) {
	if b.frozen || !wm.After(b.hwm) {
		return
	}
	b.hwm = wm
}

// save persists the watermark if it moved.
func (b *batch) save(ctx context.Context) error {
	if !b.hwm.After(b.saved.Watermark) {
		return nil
	}
	cp := checkpoint.Checkpoint{
		Stream:    b.stream,
		Watermark: b.hwm,
		UpdatedAt: b.e.clock.Now().UTC(),
		Records:   b.saved.Records + b.since,
	}
	if err := b.e.checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("%w: save %s: %w", errCheckpoint, b.stream, err)
	}
	b.saved = cp
	b.since = 0
	b.res.Watermark = cp.Watermark
	metrics.RecordCheckpoint(b.stream, cp.Watermark.Time)
	return nil
}
