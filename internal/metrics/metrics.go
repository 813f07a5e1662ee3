// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetbridge_sync_duration_seconds",
			Help:    "Duration of sync cycles in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stream"},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_sync_records_total",
			Help: "Provider records handled by the sync engine, by outcome",
		},
		[]string{"stream", "outcome"}, // published, skipped, filtered
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_sync_errors_total",
			Help: "Sync errors by stream and error type",
		},
		[]string{"stream", "error_type"},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetbridge_sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync cycle",
		},
		[]string{"stream"},
	)

	CheckpointLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetbridge_checkpoint_lag_seconds",
			Help: "Age of the persisted checkpoint watermark",
		},
		[]string{"stream"},
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_events_published_total",
			Help: "Envelopes successfully published, by topic",
		},
		[]string{"topic"},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_event_publish_errors_total",
			Help: "Envelope publish failures, by topic",
		},
		[]string{"topic"},
	)

	// Provider Metrics
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetbridge_provider_request_duration_seconds",
			Help:    "Latency of provider REST calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_provider_requests_total",
			Help: "Provider REST calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetbridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Command Metrics
	CommandTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_command_transitions_total",
			Help: "Command state transitions by target state",
		},
		[]string{"state"},
	)

	CommandSendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_command_send_attempts_total",
			Help: "Command send attempts by result",
		},
		[]string{"result"},
	)

	CommandsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetbridge_commands_active",
			Help: "Commands not yet in a terminal state",
		},
	)

	// Worker Pool Metrics
	PoolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetbridge_pool_queue_depth",
			Help: "Tasks waiting in a worker pool queue",
		},
		[]string{"pool"},
	)

	PoolRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_pool_rejected_total",
			Help: "Tasks rejected because the pool queue was full or closed",
		},
		[]string{"pool"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_api_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetbridge_api_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Ingest Metrics
	IngestConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_ingest_connections_total",
			Help: "Inbound heartbeat connections by result",
		},
		[]string{"result"}, // accepted, refused
	)

	IngestLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_ingest_lines_total",
			Help: "Heartbeat lines by result",
		},
		[]string{"result"}, // published, invalid, unresolved, failed
	)
)

// RecordSyncCycle records the outcome of one sync cycle.
func RecordSyncCycle(stream string, duration time.Duration, published, skipped int, err error) {
	SyncDuration.WithLabelValues(stream).Observe(duration.Seconds())
	SyncRecords.WithLabelValues(stream, "published").Add(float64(published))
	SyncRecords.WithLabelValues(stream, "skipped").Add(float64(skipped))
	if err == nil {
		SyncLastSuccess.WithLabelValues(stream).Set(float64(time.Now().Unix()))
	}
}

// RecordSyncError counts a classified sync error.
func RecordSyncError(stream, errorType string) {
	SyncErrors.WithLabelValues(stream, errorType).Inc()
}

// RecordCheckpoint updates the checkpoint lag gauge.
func RecordCheckpoint(stream string, watermark time.Time) {
	if watermark.IsZero() {
		return
	}
	CheckpointLag.WithLabelValues(stream).Set(time.Since(watermark).Seconds())
}

// RecordPublish records an envelope publish result.
func RecordPublish(topic string, err error) {
	if err != nil {
		EventPublishErrors.WithLabelValues(topic).Inc()
		return
	}
	EventsPublished.WithLabelValues(topic).Inc()
}

// RecordProviderRequest records a provider REST call. statusCode 0 means no response.
func RecordProviderRequest(operation string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	ProviderRequests.WithLabelValues(operation, status).Inc()
	ProviderRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCommandTransition counts a command entering state.
func RecordCommandTransition(state string) {
	CommandTransitions.WithLabelValues(state).Inc()
}

// RecordCommandSend counts a command send attempt.
func RecordCommandSend(err error) {
	if err != nil {
		CommandSendAttempts.WithLabelValues("failure").Inc()
		return
	}
	CommandSendAttempts.WithLabelValues("success").Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
