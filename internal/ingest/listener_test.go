// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package ingest

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/directory"
	"github.com/tomtom215/fleetbridge/internal/events"
	"github.com/tomtom215/fleetbridge/internal/metrics"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/stats"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu   sync.Mutex
	fail bool
	envs []*events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, env *events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	if topic != events.TopicHealth {
		return errors.New("unexpected topic " + topic)
	}
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		Enabled:      true,
		Addr:         "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		MaxLineBytes: 256,
	}
}

func newListener(t *testing.T, cfg config.IngestConfig, pool *workerpool.Pool) (*Listener, *recordingPublisher, *stats.ErrorTracker) {
	t.Helper()
	clk := clock.NewFake(t0)
	pub := &recordingPublisher{}
	errs := stats.NewErrorTracker(clk)
	dir := directory.NewStatic([]config.StaticDevice{
		{ProviderID: 42, DeviceID: "dev-42", CompanyID: "co-1", Active: true},
		{ProviderID: 7, DeviceID: "dev-7", CompanyID: "co-1", Active: false},
	})
	l := New(cfg, Deps{
		Pool:      pool,
		Directory: dir,
		Publisher: pub,
		Builder:   events.NewBuilder("gateway", clk),
		Clock:     clk,
		Errors:    errs,
	})
	return l, pub, errs
}

func TestHandleLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		line       string
		failPub    bool
		wantResult string // "" = published
	}{
		{name: "full heartbeat", line: `{"device_id":42,"time":"2026-03-01T11:59:00Z","battery":12.6,"ignition":true}`},
		{name: "time defaults to now", line: `{"device_id":42}`},
		{name: "malformed json", line: `{"device_id":`, wantResult: ResultInvalid},
		{name: "missing device id", line: `{"battery":12.1}`, wantResult: ResultInvalid},
		{name: "battery out of range", line: `{"device_id":42,"battery":400}`, wantResult: ResultInvalid},
		{name: "unknown device", line: `{"device_id":99}`, wantResult: ResultUnresolved},
		{name: "inactive device", line: `{"device_id":7}`, wantResult: ResultInactive},
		{name: "publish failure", line: `{"device_id":42}`, failPub: true, wantResult: ResultFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, pub, errs := newListener(t, testIngestConfig(), nil)
			pub.fail = tt.failPub

			err := l.HandleLine(context.Background(), []byte(tt.line))
			if tt.wantResult == "" {
				if err != nil {
					t.Fatalf("HandleLine() error = %v", err)
				}
				if pub.count() != 1 {
					t.Errorf("published = %d, want 1", pub.count())
				}
				return
			}
			var le *lineError
			if !errors.As(err, &le) || le.result != tt.wantResult {
				t.Fatalf("HandleLine() error = %v, want result %s", err, tt.wantResult)
			}
			if got := errs.Count(stats.ErrorIngest); got != 1 {
				t.Errorf("ingest errors = %d, want 1", got)
			}
		})
	}
}

func TestHandleLine_HeartbeatPayload(t *testing.T) {
	t.Parallel()
	l, pub, _ := newListener(t, testIngestConfig(), nil)

	if err := l.HandleLine(context.Background(), []byte(`{"device_id":42,"time":"2026-03-01T11:59:00Z","battery":12.64,"ignition":false}`)); err != nil {
		t.Fatalf("HandleLine() error = %v", err)
	}
	var ev models.DeviceHealthEvent
	if err := pub.envs[0].Decode(&ev); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ev.DeviceID != "dev-42" || ev.CompanyID != "co-1" || ev.ProviderDeviceID != 42 {
		t.Errorf("identity = %+v", ev)
	}
	if ev.Kind != "heartbeat" || ev.Ignition == nil || *ev.Ignition {
		t.Errorf("kind=%q ignition=%v", ev.Kind, ev.Ignition)
	}
	if !ev.ObservedTime.Equal(t0.Add(-time.Minute)) {
		t.Errorf("ObservedTime = %v", ev.ObservedTime)
	}
	if pub.envs[0].Source != "gateway" {
		t.Errorf("Source = %q", pub.envs[0].Source)
	}
}

func startListener(t *testing.T, l *Listener) (net.Addr, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("listener not ready")
	}
	return l.Addr(), cancel, done
}

func dial(t *testing.T, addr net.Addr) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func exchange(t *testing.T, conn net.Conn, r *bufio.Reader, line string) string {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	reply, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	return strings.TrimSpace(reply)
}

func TestListener_Serve(t *testing.T) {
	t.Parallel()
	pool := workerpool.New("ingest-test", 2, 0)
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	l, pub, _ := newListener(t, testIngestConfig(), pool)
	addr, cancel, done := startListener(t, l)

	conn, r := dial(t, addr)
	if got := exchange(t, conn, r, `{"device_id":42,"battery":12.5}`); got != "OK" {
		t.Errorf("reply = %q, want OK", got)
	}
	if got := exchange(t, conn, r, `{"device_id":99}`); !strings.HasPrefix(got, "ERR unresolved") {
		t.Errorf("reply = %q, want ERR unresolved", got)
	}
	if pub.count() != 1 {
		t.Errorf("published = %d, want 1", pub.count())
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
	// Shutdown closes open connections.
	if _, err := r.ReadString('\n'); err == nil {
		t.Error("connection still open after shutdown")
	}
}

func TestListener_LineTooLong(t *testing.T) {
	t.Parallel()
	pool := workerpool.New("ingest-test", 1, 0)
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	cfg := testIngestConfig()
	cfg.MaxLineBytes = 64
	l, _, _ := newListener(t, cfg, pool)
	addr, cancel, _ := startListener(t, l)
	t.Cleanup(cancel)

	conn, r := dial(t, addr)
	long := `{"device_id":42,"pad":"` + strings.Repeat("x", 100) + `"}`
	if got := exchange(t, conn, r, long); got != "ERR line too long" {
		t.Errorf("reply = %q, want ERR line too long", got)
	}
}

func TestListener_RefusesWhenPoolBusy(t *testing.T) {
	t.Parallel()
	pool := workerpool.New("ingest-test", 1, 0)
	t.Cleanup(func() { _ = pool.Shutdown(time.Second) })
	l, _, _ := newListener(t, testIngestConfig(), pool)
	addr, cancel, _ := startListener(t, l)
	t.Cleanup(cancel)

	// The first connection holds the only worker.
	first, r1 := dial(t, addr)
	if got := exchange(t, first, r1, `{"device_id":42}`); got != "OK" {
		t.Fatalf("reply = %q, want OK", got)
	}

	second, r2 := dial(t, addr)
	_, _ = second.Write([]byte(`{"device_id":42}` + "\n"))
	if _, err := r2.ReadString('\n'); err == nil {
		t.Error("second connection was served while the pool was busy")
	}
	if got := pool.Stats().Rejected; got != 1 {
		t.Errorf("pool rejected = %d, want 1", got)
	}
}

func TestHandleLine_PublishCountedOnce(t *testing.T) {
	// Not parallel: reads a package-global counter.
	clk := clock.NewFake(t0)
	pub, _ := events.NewChannelPublisher(nil)
	t.Cleanup(func() { _ = pub.Close() })
	l := New(testIngestConfig(), Deps{
		Directory: directory.NewStatic([]config.StaticDevice{
			{ProviderID: 42, DeviceID: "dev-42", CompanyID: "co-1", Active: true},
		}),
		Publisher: pub,
		Builder:   events.NewBuilder("gateway", clk),
		Clock:     clk,
	})

	before := testutil.ToFloat64(metrics.EventsPublished.WithLabelValues(events.TopicHealth))
	if err := l.HandleLine(context.Background(), []byte(`{"device_id":42}`)); err != nil {
		t.Fatalf("HandleLine() error = %v", err)
	}
	if delta := testutil.ToFloat64(metrics.EventsPublished.WithLabelValues(events.TopicHealth)) - before; delta != 1 {
		t.Errorf("events published delta = %v, want 1", delta)
	}
}
