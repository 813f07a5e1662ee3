// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

// Package ingest accepts heartbeats pushed by device gateways over TCP.
//
// The wire format is newline-delimited JSON, one heartbeat per line:
//
//	{"device_id": 42, "time": "2026-03-01T12:00:00Z", "battery": 12.6, "ignition": true}
//
// device_id is the provider device id. time defaults to the receive time. Each line is
// answered with "OK" or "ERR <reason>". Connections are served by the ingest worker
// pool; when the pool is saturated new connections are closed immediately.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/directory"
	"github.com/tomtom215/fleetbridge/internal/events"
	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/metrics"
	"github.com/tomtom215/fleetbridge/internal/stats"
	"github.com/tomtom215/fleetbridge/internal/transform"
	"github.com/tomtom215/fleetbridge/internal/validation"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

// Line results, also used as metric labels.
const (
	ResultPublished  = "published"
	ResultInvalid    = "invalid"
	ResultUnresolved = "unresolved"
	ResultInactive   = "inactive"
	ResultFailed     = "failed"
)

// Heartbeat is one inbound line.
type Heartbeat struct {
	DeviceID int64     `json:"device_id" validate:"required,gt=0"`
	Time     time.Time `json:"time"`
	Battery  *float64  `json:"battery,omitempty" validate:"omitempty,gte=0,lte=100"`
	Ignition *bool     `json:"ignition,omitempty"`
}

// lineError carries the metric result of a rejected line.
type lineError struct {
	result string
	err    error
}

func (e *lineError) Error() string { return e.result + ": " + e.err.Error() }
func (e *lineError) Unwrap() error { return e.err }

// Deps are the listener collaborators.
type Deps struct {
	Pool      *workerpool.Pool
	Directory directory.Resolver
	Publisher events.Publisher
	Builder   *events.Builder
	Clock     clock.Clock
	Errors    *stats.ErrorTracker
	Perf      *stats.PerfCounters
}

// Listener is the heartbeat TCP server.
type Listener struct {
	cfg       config.IngestConfig
	pool      *workerpool.Pool
	directory directory.Resolver
	publisher events.Publisher
	builder   *events.Builder
	clock     clock.Clock
	errs      *stats.ErrorTracker
	perf      *stats.PerfCounters

	ready chan struct{}

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
}

// New creates a listener. Nil Clock, Errors and Perf get defaults.
func New(cfg config.IngestConfig, deps Deps) *Listener {
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
	return &Listener{
		cfg:       cfg,
		pool:      deps.Pool,
		directory: deps.Directory,
		publisher: deps.Publisher,
		builder:   deps.Builder,
		clock:     clk,
		errs:      errs,
		perf:      perf,
		ready:     make(chan struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// String implements fmt.Stringer for suture logging.
func (l *Listener) String() string { return "ingest-listener" }

// Ready is closed once the listener is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Addr returns the bound address, or nil before Ready.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled. Open connections are closed on
// return.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("ingest listen on %s: %w", l.cfg.Addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	close(l.ready)

	logging.Info().Str("addr", ln.Addr().String()).Msg("Heartbeat listener started")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
		l.closeConns()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logging.Warn().Err(err).Msg("Heartbeat accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		l.accept(conn)
	}
}

func (l *Listener) accept(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(60 * time.Second)
	}
	l.track(conn)
	err := l.pool.Submit(func(ctx context.Context) {
		defer l.untrack(conn)
		l.handle(ctx, conn)
	})
	if err != nil {
		l.untrack(conn)
		metrics.IngestConnections.WithLabelValues("refused").Inc()
		logging.Warn().
			Err(err).
			Str("remote", conn.RemoteAddr().String()).
			Msg("Heartbeat connection refused")
		return
	}
	metrics.IngestConnections.WithLabelValues("accepted").Inc()
}

func (l *Listener) track(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[conn] = struct{}{}
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	_ = conn.Close()
}

func (l *Listener) closeConns() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		_ = c.Close()
	}
}

// handle serves one connection until EOF, a read timeout or an oversized line.
func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), l.cfg.MaxLineBytes)
	w := bufio.NewWriter(conn)

	for {
		if l.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		reply := "OK\n"
		if err := l.HandleLine(ctx, line); err != nil {
			reply = "ERR " + err.Error() + "\n"
		}
		if _, err := w.WriteString(reply); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		if errors.Is(err, bufio.ErrTooLong) {
			metrics.IngestLines.WithLabelValues(ResultInvalid).Inc()
			_, _ = w.WriteString("ERR line too long\n")
			_ = w.Flush()
		}
		logging.Debug().Err(err).Str("remote", remote).Msg("Heartbeat connection closed")
	}
}

// HandleLine decodes, resolves and publishes one heartbeat line.
func (l *Listener) HandleLine(ctx context.Context, line []byte) error {
	start := l.clock.Now()
	err := l.handleLine(ctx, line)
	l.perf.Observe("ingest_line", l.clock.Now().Sub(start))

	result := ResultPublished
	var le *lineError
	if errors.As(err, &le) {
		result = le.result
		l.errs.Record(stats.ErrorIngest, err)
	}
	metrics.IngestLines.WithLabelValues(result).Inc()
	l.perf.Inc("ingest_lines_" + result)
	return err
}

func (l *Listener) handleLine(ctx context.Context, line []byte) error {
	var hb Heartbeat
	if err := json.Unmarshal(line, &hb); err != nil {
		return &lineError{ResultInvalid, fmt.Errorf("decode heartbeat: %w", err)}
	}
	if err := validation.ValidateStruct(&hb); err != nil {
		return &lineError{ResultInvalid, err}
	}

	ref, err := l.directory.Resolve(ctx, hb.DeviceID)
	if err != nil {
		return &lineError{ResultUnresolved, fmt.Errorf("device %d: %w", hb.DeviceID, err)}
	}
	if !ref.Active {
		return &lineError{ResultInactive, fmt.Errorf("device %d is inactive", hb.DeviceID)}
	}

	observed := hb.Time
	if observed.IsZero() {
		observed = l.clock.Now()
	}
	ev := transform.HeartbeatAt(ref, observed, hb.Battery, hb.Ignition, l.builder.Source())
	env, err := l.builder.Health(ev)
	if err != nil {
		return &lineError{ResultFailed, err}
	}
	topic := events.TopicForType(env.EventType)
	err = l.publisher.Publish(ctx, topic, env)
	if err != nil {
		return &lineError{ResultFailed, fmt.Errorf("publish heartbeat: %w", err)}
	}
	return nil
}
