// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/fleetbridge/internal/clock"
)

type timer struct {
	count atomic.Int64
	total atomic.Int64 // nanos
	max   atomic.Int64
}

func (t *timer) observe(d time.Duration) {
	n := int64(d)
	t.count.Add(1)
	t.total.Add(n)
	for {
		cur := t.max.Load()
		if n <= cur || t.max.CompareAndSwap(cur, n) {
			return
		}
	}
}

// PerfCounters holds named counters and latency timers.
type PerfCounters struct {
	clock    clock.Clock
	started  time.Time
	counters sync.Map // string -> *atomic.Int64
	timers   sync.Map // string -> *timer
}

// NewPerfCounters creates an empty counter set.
func NewPerfCounters(clk clock.Clock) *PerfCounters {
	if clk == nil {
		clk = clock.Real()
	}
	return &PerfCounters{clock: clk, started: clk.Now()}
}

// Add increments counter name by delta.
func (p *PerfCounters) Add(name string, delta int64) {
	v, ok := p.counters.Load(name)
	if !ok {
		v, _ = p.counters.LoadOrStore(name, new(atomic.Int64))
	}
	v.(*atomic.Int64).Add(delta)
}

// Inc increments counter name by one.
func (p *PerfCounters) Inc(name string) { p.Add(name, 1) }

// Get returns the current value of counter name.
func (p *PerfCounters) Get(name string) int64 {
	v, ok := p.counters.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Observe records one duration sample for timer name.
func (p *PerfCounters) Observe(name string, d time.Duration) {
	v, ok := p.timers.Load(name)
	if !ok {
		v, _ = p.timers.LoadOrStore(name, &timer{})
	}
	v.(*timer).observe(d)
}

// TimerSnapshot summarizes a timer in milliseconds.
type TimerSnapshot struct {
	Count   int64   `json:"count"`
	TotalMs float64 `json:"totalMs"`
	AvgMs   float64 `json:"avgMs"`
	MaxMs   float64 `json:"maxMs"`
}

// PerfSnapshot is the performance endpoint payload.
type PerfSnapshot struct {
	Since         time.Time                `json:"since"`
	UptimeSeconds float64                  `json:"uptimeSeconds"`
	Counters      map[string]int64         `json:"counters"`
	Timers        map[string]TimerSnapshot `json:"timers"`
}

// Snapshot copies all counters and timers.
func (p *PerfCounters) Snapshot() PerfSnapshot {
	s := PerfSnapshot{
		Since:         p.started.UTC(),
		UptimeSeconds: p.clock.Now().Sub(p.started).Seconds(),
		Counters:      map[string]int64{},
		Timers:        map[string]TimerSnapshot{},
	}
	p.counters.Range(func(k, v any) bool {
		s.Counters[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	p.timers.Range(func(k, v any) bool {
		t := v.(*timer)
		count := t.count.Load()
		total := float64(t.total.Load()) / float64(time.Millisecond)
		snap := TimerSnapshot{
			Count:   count,
			TotalMs: total,
			MaxMs:   float64(t.max.Load()) / float64(time.Millisecond),
		}
		if count > 0 {
			snap.AvgMs = total / float64(count)
		}
		s.Timers[k.(string)] = snap
		return true
	})
	return s
}
