// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/fleetbridge/internal/clock"
)

// Error types recorded across the service.
const (
	ErrorTransport       = "transport"
	ErrorAuth            = "auth"
	ErrorDegraded        = "degraded"
	ErrorResolution      = "resolution"
	ErrorTransform       = "transform"
	ErrorPublish         = "publish"
	ErrorCheckpoint      = "checkpoint"
	ErrorCommandSemantic = "command_semantic"
	ErrorCommandTimeout  = "command_timeout"
	ErrorCommandStore    = "command_store"
	ErrorIngest          = "ingest"
)

type errorCounter struct {
	count     atomic.Int64
	firstSeen atomic.Int64 // unix nanos
	lastSeen  atomic.Int64
	lastMsg   atomic.Pointer[string]
}

// ErrorTracker counts error occurrences by type with first/last timestamps.
type ErrorTracker struct {
	clock    clock.Clock
	started  time.Time
	counters sync.Map // string -> *errorCounter
	total    atomic.Int64
}

// NewErrorTracker creates an empty tracker.
func NewErrorTracker(clk clock.Clock) *ErrorTracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &ErrorTracker{clock: clk, started: clk.Now()}
}

// Record counts one occurrence of errType. err may be nil.
func (t *ErrorTracker) Record(errType string, err error) {
	v, ok := t.counters.Load(errType)
	if !ok {
		v, _ = t.counters.LoadOrStore(errType, &errorCounter{})
	}
	c := v.(*errorCounter)

	now := t.clock.Now().UnixNano()
	c.count.Add(1)
	c.firstSeen.CompareAndSwap(0, now)
	c.lastSeen.Store(now)
	if err != nil {
		msg := err.Error()
		c.lastMsg.Store(&msg)
	}
	t.total.Add(1)
}

// Count returns the occurrences of errType.
func (t *ErrorTracker) Count(errType string) int64 {
	v, ok := t.counters.Load(errType)
	if !ok {
		return 0
	}
	return v.(*errorCounter).count.Load()
}

// Total returns the occurrences across all types.
func (t *ErrorTracker) Total() int64 { return t.total.Load() }

// ErrorTypeSummary describes one error type.
type ErrorTypeSummary struct {
	Type        string    `json:"type"`
	Count       int64     `json:"count"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	LastMessage string    `json:"lastMessage,omitempty"`
}

// ErrorSummary is the error-summary endpoint payload.
type ErrorSummary struct {
	Total  int64              `json:"total"`
	Since  time.Time          `json:"since"`
	ByType []ErrorTypeSummary `json:"byType"`
}

// Summary returns every recorded type ordered by count, highest first.
func (t *ErrorTracker) Summary() ErrorSummary {
	s := ErrorSummary{Total: t.total.Load(), Since: t.started.UTC(), ByType: []ErrorTypeSummary{}}
	t.counters.Range(func(k, v any) bool {
		c := v.(*errorCounter)
		item := ErrorTypeSummary{
			Type:      k.(string),
			Count:     c.count.Load(),
			FirstSeen: time.Unix(0, c.firstSeen.Load()).UTC(),
			LastSeen:  time.Unix(0, c.lastSeen.Load()).UTC(),
		}
		if msg := c.lastMsg.Load(); msg != nil {
			item.LastMessage = *msg
		}
		s.ByType = append(s.ByType, item)
		return true
	})
	sort.Slice(s.ByType, func(i, j int) bool {
		if s.ByType[i].Count != s.ByType[j].Count {
			return s.ByType[i].Count > s.ByType[j].Count
		}
		return s.ByType[i].Type < s.ByType[j].Type
	})
	return s
}
