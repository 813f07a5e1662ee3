// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package sync

import (
	"time"

	"github.com/tomtom215/fleetbridge/internal/checkpoint"
)

// StreamStatus is the last known state of one stream.
type StreamStatus struct {
	Stream        string               `json:"stream"`
	Running       bool                 `json:"running"`
	Cycles        int64                `json:"cycles"`
	LastAttempt   time.Time            `json:"last_attempt"`
	LastSuccess   time.Time            `json:"last_success"`
	LastError     string               `json:"last_error,omitempty"`
	LastErrorType string               `json:"last_error_type,omitempty"`
	AuthFailed    bool                 `json:"auth_failed"`
	Degraded      bool                 `json:"degraded"`
	Blocked       bool                 `json:"blocked"`
	LastPublished int                  `json:"last_published"`
	LastSkipped   int                  `json:"last_skipped"`
	Watermark     checkpoint.Watermark `json:"watermark"`
}

// StreamFreshness is a stream status judged against the staleness threshold.
type StreamFreshness struct {
	StreamStatus
	AgeSeconds float64 `json:"age_seconds"`
	Stale      bool    `json:"stale"`
}

// Freshness is the sync health report.
type Freshness struct {
	Healthy   bool              `json:"healthy"`
	Threshold string            `json:"threshold"`
	Streams   []StreamFreshness `json:"streams"`
}

// Status returns a snapshot of every stream in scheduling order.
func (e *Engine) Status() []StreamStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]StreamStatus, 0, len(Streams))
	for _, s := range Streams {
		out = append(out, *e.status[s])
	}
	return out
}

// Running reports whether a cycle for stream is in progress.
func (e *Engine) Running(stream string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.status[stream]
	return ok && st.Running
}

// Freshness reports whether each stream completed a cycle within the staleness threshold.
// A stream that has never succeeded is measured from engine start. A stream whose last
// cycle failed authentication is unhealthy regardless of age.
func (e *Engine) Freshness(streams ...string) Freshness {
	if len(streams) == 0 {
		streams = Streams
	}
	now := e.clock.Now()
	threshold := e.cfg.StalenessThreshold

	e.mu.RLock()
	defer e.mu.RUnlock()

	report := Freshness{Healthy: true, Threshold: threshold.String()}
	for _, s := range streams {
		st, ok := e.status[s]
		if !ok {
			continue
		}
		ref := st.LastSuccess
		if ref.IsZero() {
			ref = e.started
		}
		age := now.Sub(ref)
		f := StreamFreshness{
			StreamStatus: *st,
			AgeSeconds:   age.Seconds(),
			Stale:        threshold > 0 && age > threshold,
		}
		if f.Stale || f.AuthFailed {
			report.Healthy = false
		}
		report.Streams = append(report.Streams, f)
	}
	return report
}
