// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/fleetbridge/internal/checkpoint"
	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/command"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/directory"
	"github.com/tomtom215/fleetbridge/internal/events"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/provider"
	"github.com/tomtom215/fleetbridge/internal/stats"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClient serves canned provider data.
type fakeClient struct {
	mu        sync.Mutex
	positions []models.ProviderPosition
	events    []models.ProviderEvent
	devices   []models.ProviderDevice
	err       error
	posQuery  []provider.PositionQuery
	evQuery   []provider.EventQuery

	// when set, Positions signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

// Devices returns the configured roster, or one derived from the canned records.
func (c *fakeClient) Devices(context.Context) ([]models.ProviderDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if c.devices != nil {
		return append([]models.ProviderDevice(nil), c.devices...), nil
	}
	var roster []models.ProviderDevice
	seen := make(map[int64]bool)
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			roster = append(roster, models.ProviderDevice{ID: id})
		}
	}
	for i := range c.positions {
		add(c.positions[i].DeviceID)
	}
	for i := range c.events {
		add(c.events[i].DeviceID)
	}
	return roster, nil
}

// inRange applies the provider's inclusive from/to filter; a zero to is open-ended.
func inRange(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	return to.IsZero() || !at.After(to)
}

func (c *fakeClient) Positions(_ context.Context, q provider.PositionQuery) ([]models.ProviderPosition, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posQuery = append(c.posQuery, q)
	if c.err != nil {
		return nil, c.err
	}
	var out []models.ProviderPosition
	for i := range c.positions {
		p := c.positions[i]
		if q.DeviceID != 0 && p.DeviceID != q.DeviceID {
			continue
		}
		if inRange(positionWatermark(&p).Time, q.From, q.To) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return positionWatermark(&out[i]).Compare(positionWatermark(&out[j])) < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (c *fakeClient) Events(_ context.Context, q provider.EventQuery) ([]models.ProviderEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evQuery = append(c.evQuery, q)
	if c.err != nil {
		return nil, c.err
	}
	var out []models.ProviderEvent
	for i := range c.events {
		ev := c.events[i]
		if q.DeviceID != 0 && ev.DeviceID != q.DeviceID {
			continue
		}
		if inRange(ev.EventTime, q.From, q.To) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return eventWatermark(&out[i]).Compare(eventWatermark(&out[j])) < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (c *fakeClient) SendCommand(context.Context, provider.CommandRequest) (*models.ProviderCommand, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) CommandTypes(context.Context, int64) ([]models.ProviderCommandType, error) {
	return nil, nil
}

func (c *fakeClient) ServerInfo(context.Context) (*models.ProviderServerInfo, error) {
	return &models.ProviderServerInfo{Version: "test"}, nil
}

// mapResolver is a mutable device directory.
type mapResolver struct {
	mu   sync.Mutex
	refs map[int64]models.DeviceRef
}

func newResolver(refs ...models.DeviceRef) *mapResolver {
	r := &mapResolver{refs: make(map[int64]models.DeviceRef)}
	for _, ref := range refs {
		r.add(ref)
	}
	return r
}

func (r *mapResolver) add(ref models.DeviceRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[ref.ProviderDeviceID] = ref
}

func (r *mapResolver) Resolve(_ context.Context, id int64) (models.DeviceRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.refs[id]
	if !ok {
		return models.DeviceRef{}, directory.ErrNotFound
	}
	return ref, nil
}

// recordingPublisher captures envelopes and fails once failAfter publishes succeeded.
type recordingPublisher struct {
	mu        sync.Mutex
	failAfter int // 0 = never fail
	topics    []string
	envs      []*events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, env *events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAfter > 0 && len(p.envs) >= p.failAfter {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	p.envs = append(p.envs, env)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.envs))
	for _, env := range p.envs {
		out = append(out, env.EventID)
	}
	return out
}

func (p *recordingPublisher) topicCounts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int)
	for _, tp := range p.topics {
		out[tp]++
	}
	return out
}

type ackCall struct {
	providerDeviceID int64
	result           string
}

type mockAcknowledger struct {
	mu    sync.Mutex
	err   error
	calls []ackCall
}

func (m *mockAcknowledger) AcknowledgeDevice(_ context.Context, id int64, result string) (*command.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ackCall{id, result})
	if m.err != nil {
		return nil, m.err
	}
	return &command.Command{ID: "cmd-1", ProviderDeviceID: id, State: command.StateAcknowledged}, nil
}

type harness struct {
	engine *Engine
	client *fakeClient
	dir    *mapResolver
	store  *checkpoint.MemoryStore
	pub    *recordingPublisher
	clk    *clock.Fake
	errs   *stats.ErrorTracker
	acks   *mockAcknowledger
}

var (
	devActive   = models.DeviceRef{DeviceID: "dev-1", CompanyID: "co-1", ProviderDeviceID: 1, Active: true}
	devInactive = models.DeviceRef{DeviceID: "dev-3", CompanyID: "co-1", ProviderDeviceID: 3, Active: false}
)

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		Enabled:            true,
		PositionsInterval:  time.Minute,
		EventsInterval:     time.Minute,
		DevicesInterval:    time.Minute,
		BatchSize:          100,
		StalenessThreshold: 5 * time.Minute,
		InitialLookback:    time.Hour,
	}
}

func newHarness(t *testing.T, cfg config.SyncConfig) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	h := &harness{
		client: &fakeClient{},
		dir:    newResolver(devActive, devInactive),
		store:  checkpoint.NewMemoryStore(),
		pub:    &recordingPublisher{},
		clk:    clk,
		errs:   stats.NewErrorTracker(clk),
		acks:   &mockAcknowledger{},
	}
	h.engine = NewEngine(cfg, Deps{
		Client:      h.client,
		Directory:   h.dir,
		Checkpoints: h.store,
		Publisher:   h.pub,
		Builder:     events.NewBuilder("traccar", clk),
		Commands:    h.acks,
		Clock:       clk,
		Errors:      h.errs,
	})
	return h
}

func (h *harness) checkpoint(t *testing.T, stream string) checkpoint.Watermark {
	t.Helper()
	cp, err := h.store.Load(context.Background(), stream)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return checkpoint.Watermark{}
	}
	if err != nil {
		t.Fatalf("Load(%s) error = %v", stream, err)
	}
	return cp.Watermark
}

func floatPtr(v float64) *float64 { return &v }

func position(id, deviceID int64, at time.Time) models.ProviderPosition {
	return models.ProviderPosition{
		ID:         id,
		DeviceID:   deviceID,
		DeviceTime: at.Add(-2 * time.Second),
		FixTime:    at.Add(-2 * time.Second),
		ServerTime: at,
		Valid:      true,
		Latitude:   floatPtr(45.123456789),
		Longitude:  floatPtr(-75.5),
		Speed:      floatPtr(10),
	}
}

func TestRunSyncCycle_HaltsAtUnresolvedDevice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	p1 := position(101, 1, t0.Add(-3*time.Minute))
	p2 := position(102, 99, t0.Add(-2*time.Minute))
	p3 := position(103, 1, t0.Add(-1*time.Minute))
	h.client.positions = []models.ProviderPosition{p1, p2, p3}

	res, err := h.engine.RunSyncCycle(context.Background(), StreamPositions)
	if err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if res.Published != 1 || res.Skipped != 1 || !res.Halted {
		t.Errorf("result = %+v, want 1 published, 1 skipped, halted", res)
	}
	if got := h.errs.Count(stats.ErrorResolution); got != 1 {
		t.Errorf("resolution errors = %d, want 1", got)
	}
	want := positionWatermark(&p1)
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("checkpoint = %+v, want %+v", got, want)
	}

	p3ID := events.TelemetryEventID("dev-1", p3.DeviceTime, "location")
	for _, id := range h.pub.ids() {
		if id == p3ID {
			t.Fatal("position 3 was published in the halted cycle")
		}
	}
	counts := h.pub.topicCounts()
	if counts[events.TopicLocation] != 1 || counts[events.TopicHealth] != 1 {
		t.Errorf("topic counts = %v, want one location and one heartbeat", counts)
	}

	// Once the device is known, the next cycle picks up where the last one stopped.
	h.dir.add(models.DeviceRef{DeviceID: "dev-99", CompanyID: "co-2", ProviderDeviceID: 99, Active: true})
	res, err = h.engine.RunSyncCycle(context.Background(), StreamPositions)
	if err != nil {
		t.Fatalf("second RunSyncCycle() error = %v", err)
	}
	if res.Published != 2 || res.Halted {
		t.Errorf("second result = %+v, want 2 published", res)
	}
	want = positionWatermark(&p3)
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("checkpoint = %+v, want %+v", got, want)
	}
}

func TestRunSyncCycle_TransformFailureHoldsCheckpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	p1 := position(1, 1, t0.Add(-3*time.Minute))
	p2 := position(2, 1, t0.Add(-2*time.Minute))
	p2.Latitude = floatPtr(200)
	p3 := position(3, 1, t0.Add(-1*time.Minute))
	h.client.positions = []models.ProviderPosition{p1, p2, p3}

	res, err := h.engine.RunSyncCycle(context.Background(), StreamPositions)
	if err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if res.Published != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 2 published, 1 skipped", res)
	}
	if res.Halted || !res.Blocked {
		t.Errorf("halted=%v blocked=%v, want not halted but blocked", res.Halted, res.Blocked)
	}
	if got := h.errs.Count(stats.ErrorTransform); got != 1 {
		t.Errorf("transform errors = %d, want 1", got)
	}
	want := positionWatermark(&p1)
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("checkpoint = %+v, want %+v", got, want)
	}
}

func TestRunSyncCycle_PublishFailureHalts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	h.pub.failAfter = 2 // location + heartbeat of the first position
	p1 := position(1, 1, t0.Add(-2*time.Minute))
	p2 := position(2, 1, t0.Add(-1*time.Minute))
	h.client.positions = []models.ProviderPosition{p1, p2}

	res, err := h.engine.RunSyncCycle(context.Background(), StreamPositions)
	if err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if res.Published != 1 || !res.Halted {
		t.Errorf("result = %+v, want 1 published and halted", res)
	}
	if got := h.errs.Count(stats.ErrorPublish); got != 1 {
		t.Errorf("publish errors = %d, want 1", got)
	}
	want := positionWatermark(&p1)
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("checkpoint = %+v, want %+v", got, want)
	}
}

func TestRunSyncCycle_InactiveDeviceAdvances(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	p1 := position(1, 3, t0.Add(-2*time.Minute))
	h.client.positions = []models.ProviderPosition{p1}

	res, err := h.engine.RunSyncCycle(context.Background(), StreamPositions)
	if err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if res.Filtered != 1 || res.Published != 0 {
		t.Errorf("result = %+v, want 1 filtered", res)
	}
	if len(h.pub.ids()) != 0 {
		t.Error("inactive device records should not be published")
	}
	want := positionWatermark(&p1)
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("checkpoint = %+v, want %+v", got, want)
	}
}

func TestRunSyncCycle_StreamLevelErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		wantType string
		unhealth bool
	}{
		{
			name:     "auth",
			err:      &provider.Error{Kind: provider.KindAuth, Op: "positions", StatusCode: 401},
			wantType: stats.ErrorAuth,
			unhealth: true,
		},
		{
			name: "degraded",
			err: fmt.Errorf("%w: positions: %w", provider.ErrDegraded,
				&provider.Error{Kind: provider.KindTransport, Op: "positions", StatusCode: 503}),
			wantType: stats.ErrorDegraded,
		},
		{
			name:     "transport",
			err:      &provider.Error{Kind: provider.KindTransport, Op: "positions"},
			wantType: stats.ErrorTransport,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, testSyncConfig())
			h.client.err = tt.err

			if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err == nil {
				t.Fatal("RunSyncCycle() error = nil")
			}
			if got := h.errs.Count(tt.wantType); got != 1 {
				t.Errorf("%s errors = %d, want 1", tt.wantType, got)
			}
			if h.store.Saves() != 0 {
				t.Error("checkpoint saved after a failed fetch")
			}
			f := h.engine.Freshness(StreamPositions)
			if f.Healthy == tt.unhealth {
				t.Errorf("Freshness().Healthy = %v, want %v", f.Healthy, !tt.unhealth)
			}
			if got := f.Streams[0].LastErrorType; got != tt.wantType {
				t.Errorf("LastErrorType = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestRunSyncCycle_FetchWindow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	p1 := position(1, 1, t0.Add(-time.Minute))
	h.client.positions = []models.ProviderPosition{p1}

	for i := 0; i < 2; i++ {
		if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err != nil {
			t.Fatalf("RunSyncCycle() #%d error = %v", i, err)
		}
	}

	h.client.mu.Lock()
	queries := append([]provider.PositionQuery(nil), h.client.posQuery...)
	h.client.mu.Unlock()
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(queries))
	}
	if want := t0.Add(-time.Hour); !queries[0].From.Equal(want) {
		t.Errorf("first From = %v, want initial lookback %v", queries[0].From, want)
	}
	if !queries[1].From.Equal(p1.ServerTime) {
		t.Errorf("second From = %v, want checkpoint %v", queries[1].From, p1.ServerTime)
	}
	if queries[0].Limit != 100 {
		t.Errorf("Limit = %d, want batch size 100", queries[0].Limit)
	}
	// The re-fetched record is at the checkpoint and must not be republished.
	if got := len(h.pub.ids()); got != 2 {
		t.Errorf("published envelopes = %d, want 2", got)
	}
}

func TestRunSyncCycle_PerDeviceBoundedFetch(t *testing.T) {
	t.Parallel()
	cfg := testSyncConfig()
	cfg.BatchSize = 2
	cfg.MaxFetchWindow = 30 * time.Minute
	h := newHarness(t, cfg)
	h.dir.add(models.DeviceRef{DeviceID: "dev-2", CompanyID: "co-1", ProviderDeviceID: 2, Active: true})
	h.client.devices = []models.ProviderDevice{{ID: 1}, {ID: 2}}
	h.client.positions = []models.ProviderPosition{
		position(1, 1, t0.Add(-50*time.Minute)),
		position(2, 1, t0.Add(-45*time.Minute)),
		position(3, 1, t0.Add(-40*time.Minute)),
		position(4, 2, t0.Add(-55*time.Minute)),
		position(5, 2, t0.Add(-20*time.Minute)),
	}

	if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	h.client.mu.Lock()
	queries := append([]provider.PositionQuery(nil), h.client.posQuery...)
	h.client.mu.Unlock()
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want one per device", len(queries))
	}
	for i, q := range queries {
		if q.DeviceID != int64(i+1) {
			t.Errorf("query %d DeviceID = %d, want %d", i, q.DeviceID, i+1)
		}
		if want := t0.Add(-30 * time.Minute); !q.To.Equal(want) {
			t.Errorf("query %d To = %v, want window end %v", i, q.To, want)
		}
		if q.Limit != 2 {
			t.Errorf("query %d Limit = %d, want 2", i, q.Limit)
		}
	}
	if got := h.pub.topicCounts()[events.TopicLocation]; got != 2 {
		t.Errorf("locations after first cycle = %d, want 2", got)
	}
	want := positionWatermark(&h.client.positions[0])
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("checkpoint = %+v, want %+v", got, want)
	}

	for i := 0; i < 3; i++ {
		if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err != nil {
			t.Fatalf("RunSyncCycle() #%d error = %v", i+2, err)
		}
	}
	if got := h.pub.topicCounts()[events.TopicLocation]; got != 5 {
		t.Errorf("locations = %d, want every position once", got)
	}
	ids := h.pub.ids()
	unique := make(map[string]bool, len(ids))
	for _, id := range ids {
		if unique[id] {
			t.Errorf("event %s published twice", id)
		}
		unique[id] = true
	}
	// The last window was fetched in full, so the checkpoint covers all of it.
	want = checkpoint.Watermark{Time: t0.Add(-10 * time.Minute)}
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("final checkpoint = %+v, want %+v", got, want)
	}
}

func TestRunSyncCycle_EmptyWindowAdvances(t *testing.T) {
	t.Parallel()
	cfg := testSyncConfig()
	cfg.MaxFetchWindow = 30 * time.Minute
	h := newHarness(t, cfg)
	h.client.devices = []models.ProviderDevice{{ID: 1}}

	if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	want := checkpoint.Watermark{Time: t0.Add(-30 * time.Minute)}
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("checkpoint = %+v, want %+v", got, want)
	}

	// The window now reaches the present, which is never covered.
	if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err != nil {
		t.Fatalf("second RunSyncCycle() error = %v", err)
	}
	h.client.mu.Lock()
	queries := append([]provider.PositionQuery(nil), h.client.posQuery...)
	h.client.mu.Unlock()
	if len(queries) != 2 || !queries[1].From.Equal(want.Time) || !queries[1].To.Equal(t0) {
		t.Errorf("second query = %+v, want [%v, %v]", queries[len(queries)-1], want.Time, t0)
	}
	if got := h.checkpoint(t, StreamPositions); got.Compare(want) != 0 {
		t.Errorf("checkpoint after open window = %+v, want %+v", got, want)
	}
}

func TestRunSyncCycle_CheckpointEvery(t *testing.T) {
	t.Parallel()
	cfg := testSyncConfig()
	cfg.CheckpointEvery = 1
	h := newHarness(t, cfg)
	h.client.positions = []models.ProviderPosition{
		position(1, 1, t0.Add(-3*time.Minute)),
		position(2, 1, t0.Add(-2*time.Minute)),
		position(3, 1, t0.Add(-1*time.Minute)),
	}

	if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if got := h.store.Saves(); got != 3 {
		t.Errorf("checkpoint saves = %d, want 3", got)
	}
}

func TestRunSyncCycle_ReplayKeepsEventIDs(t *testing.T) {
	t.Parallel()
	positions := []models.ProviderPosition{
		position(1, 1, t0.Add(-2*time.Minute)),
		position(2, 1, t0.Add(-1*time.Minute)),
	}
	positions[0].Attributes = map[string]any{"fuel": 42.5, "ignition": true}

	// Two engines with empty checkpoints model a crash before the checkpoint was persisted.
	var runs [][]string
	for i := 0; i < 2; i++ {
		h := newHarness(t, testSyncConfig())
		h.client.positions = positions
		if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err != nil {
			t.Fatalf("RunSyncCycle() error = %v", err)
		}
		ids := h.pub.ids()
		sort.Strings(ids)
		runs = append(runs, ids)
	}
	if len(runs[0]) == 0 || len(runs[0]) != len(runs[1]) {
		t.Fatalf("replay published %d and %d envelopes", len(runs[0]), len(runs[1]))
	}
	for i := range runs[0] {
		if runs[0][i] != runs[1][i] {
			t.Errorf("event id %d differs on replay: %s vs %s", i, runs[0][i], runs[1][i])
		}
	}
}

func TestRunSyncCycle_CycleInProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	h.client.devices = []models.ProviderDevice{{ID: 1}}
	h.client.entered = make(chan struct{})
	h.client.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.RunSyncCycle(context.Background(), StreamPositions)
		done <- err
	}()
	<-h.client.entered

	if !h.engine.Running(StreamPositions) {
		t.Error("Running() = false during a cycle")
	}
	if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("concurrent RunSyncCycle() error = %v, want ErrCycleInProgress", err)
	}
	// Other streams are independent.
	if _, err := h.engine.RunSyncCycle(context.Background(), StreamEvents); err != nil {
		t.Errorf("events cycle error = %v", err)
	}

	close(h.client.release)
	if err := <-done; err != nil {
		t.Errorf("first cycle error = %v", err)
	}
}

func TestRunSyncCycle_UnknownStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	if _, err := h.engine.RunSyncCycle(context.Background(), "trips"); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("error = %v, want ErrUnknownStream", err)
	}
}

func TestSyncEvents_Routing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	base := t0.Add(-10 * time.Minute)
	h.client.events = []models.ProviderEvent{
		{ID: 1, Type: models.EventDeviceOnline, DeviceID: 1, EventTime: base},
		{ID: 2, Type: models.EventAlarm, DeviceID: 1, EventTime: base.Add(time.Minute),
			Attributes: map[string]any{"alarm": "sos"}},
		{ID: 3, Type: models.EventCommandResult, DeviceID: 1, EventTime: base.Add(2 * time.Minute),
			Attributes: map[string]any{"result": "OK"}},
		{ID: 4, Type: "textMessage", DeviceID: 1, EventTime: base.Add(3 * time.Minute)},
	}

	res, err := h.engine.RunSyncCycle(context.Background(), StreamEvents)
	if err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if res.Published != 3 || res.Filtered != 1 {
		t.Errorf("result = %+v, want 3 handled, 1 filtered", res)
	}
	counts := h.pub.topicCounts()
	if counts[events.TopicConnectionStatus] != 1 || counts[events.TopicHealth] != 1 {
		t.Errorf("topic counts = %v", counts)
	}
	h.acks.mu.Lock()
	calls := append([]ackCall(nil), h.acks.calls...)
	h.acks.mu.Unlock()
	if len(calls) != 1 || calls[0] != (ackCall{1, "OK"}) {
		t.Errorf("acknowledge calls = %+v, want one for device 1 with result OK", calls)
	}
	want := checkpoint.Watermark{Time: base.Add(3 * time.Minute), ID: 4}
	if got := h.checkpoint(t, StreamEvents); got.Compare(want) != 0 {
		t.Errorf("checkpoint = %+v, want %+v", got, want)
	}
}

func TestSyncEvents_CommandResultWithoutCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		ackErr    error
		wantHalt  bool
		wantError string
	}{
		{name: "no pending command", ackErr: command.ErrNotFound},
		{name: "already terminal", ackErr: command.ErrTerminal},
		{name: "store failure", ackErr: errors.New("disk full"), wantHalt: true, wantError: stats.ErrorCommandStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, testSyncConfig())
			h.acks.err = tt.ackErr
			h.client.events = []models.ProviderEvent{
				{ID: 7, Type: models.EventCommandResult, DeviceID: 1, EventTime: t0.Add(-time.Minute)},
			}

			res, err := h.engine.RunSyncCycle(context.Background(), StreamEvents)
			if err != nil {
				t.Fatalf("RunSyncCycle() error = %v", err)
			}
			if res.Halted != tt.wantHalt {
				t.Errorf("Halted = %v, want %v", res.Halted, tt.wantHalt)
			}
			if tt.wantError != "" && h.errs.Count(tt.wantError) != 1 {
				t.Errorf("%s errors = %d, want 1", tt.wantError, h.errs.Count(tt.wantError))
			}
			if advanced := !h.checkpoint(t, StreamEvents).IsZero(); advanced == tt.wantHalt {
				t.Errorf("checkpoint advanced = %v, want %v", advanced, !tt.wantHalt)
			}
		})
	}
}

func TestSyncDevices_PublishesStatusChanges(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())
	seen := t0.Add(-time.Minute)
	h.client.devices = []models.ProviderDevice{
		{ID: 1, Status: models.StatusOnline, LastUpdate: &seen},
		{ID: 2, Status: models.StatusOnline, Disabled: true},
		{ID: 3, Status: models.StatusOffline},
		{ID: 4, Status: models.StatusOnline},
	}

	res, err := h.engine.RunSyncCycle(context.Background(), StreamDevices)
	if err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if res.Published != 1 || res.Filtered != 2 || res.Skipped != 1 {
		t.Errorf("first result = %+v, want 1 published, 2 filtered, 1 skipped", res)
	}

	res, err = h.engine.RunSyncCycle(context.Background(), StreamDevices)
	if err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if res.Published != 0 {
		t.Errorf("unchanged roster published %d events", res.Published)
	}

	h.client.mu.Lock()
	h.client.devices[0].Status = models.StatusOffline
	h.client.mu.Unlock()
	res, err = h.engine.RunSyncCycle(context.Background(), StreamDevices)
	if err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	if res.Published != 1 {
		t.Errorf("status change published %d events, want 1", res.Published)
	}
	if got := h.pub.topicCounts()[events.TopicConnectionStatus]; got != 2 {
		t.Errorf("connection events = %d, want 2", got)
	}
}

func TestFreshness(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testSyncConfig())

	if f := h.engine.Freshness(); !f.Healthy {
		t.Errorf("fresh engine unhealthy: %+v", f)
	}

	h.clk.Advance(6 * time.Minute)
	f := h.engine.Freshness(StreamPositions)
	if f.Healthy || !f.Streams[0].Stale {
		t.Errorf("Freshness() = %+v, want stale positions", f)
	}

	if _, err := h.engine.RunSyncCycle(context.Background(), StreamPositions); err != nil {
		t.Fatalf("RunSyncCycle() error = %v", err)
	}
	f = h.engine.Freshness(StreamPositions)
	if !f.Healthy || f.Streams[0].Stale {
		t.Errorf("Freshness() after success = %+v, want healthy", f)
	}
	if f.Streams[0].Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", f.Streams[0].Cycles)
	}
}
