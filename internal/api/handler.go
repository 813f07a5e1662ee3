// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package api

import (
	"context"
	"time"

	"github.com/tomtom215/fleetbridge/internal/checkpoint"
	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/command"
	"github.com/tomtom215/fleetbridge/internal/middleware"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/stats"
	syncpkg "github.com/tomtom215/fleetbridge/internal/sync"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

// SyncService is implemented by sync.Manager.
type SyncService interface {
	TriggerSync(stream string) error
	Freshness(streams ...string) syncpkg.Freshness
}

// CommandService is implemented by command.Dispatcher.
type CommandService interface {
	Submit(ctx context.Context, req command.SubmitRequest) (*command.Command, error)
	Get(ctx context.Context, id string) (*command.Command, error)
	List(ctx context.Context, f command.Filter) ([]*command.Command, error)
	Cancel(ctx context.Context, id, reason string) (*command.Command, error)
	Acknowledge(ctx context.Context, id, result string) (*command.Command, error)
	MarkExecuting(ctx context.Context, id, result string) (*command.Command, error)
	MarkExecuted(ctx context.Context, id, result string) (*command.Command, error)
	Fail(ctx context.Context, id, reason string, retryable bool) (*command.Command, error)
}

// ProviderProbe checks provider reachability. provider.Client satisfies it.
type ProviderProbe interface {
	ServerInfo(ctx context.Context) (*models.ProviderServerInfo, error)
}

// BreakerReporter exposes circuit breaker state. provider.BreakerClient satisfies it.
type BreakerReporter interface {
	State() string
}

// Pinger is a dependency with a liveness check, such as the device directory.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BusProbe reports event bus health. events.Bus satisfies it.
type BusProbe interface {
	Healthy(ctx context.Context) bool
}

// Deps are the handler collaborators. Nil services make their routes answer 503.
type Deps struct {
	Version     string
	Sync        SyncService
	Commands    CommandService
	Provider    ProviderProbe
	Breaker     BreakerReporter
	Directory   Pinger
	Bus         BusProbe
	Checkpoints checkpoint.Store
	Errors      *stats.ErrorTracker
	Perf        *stats.PerfCounters
	Monitor     *middleware.PerformanceMonitor
	Pools       []*workerpool.Pool
	Clock       clock.Clock
	// ProbeTimeout bounds each dependency check. Defaults to 5s.
	ProbeTimeout time.Duration
}

// Handler holds the HTTP handlers.
type Handler struct {
	deps    Deps
	clock   clock.Clock
	started time.Time
}

// NewHandler creates the handlers.
func NewHandler(deps Deps) *Handler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	if deps.ProbeTimeout <= 0 {
		deps.ProbeTimeout = 5 * time.Second
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Handler{deps: deps, clock: clk, started: clk.Now()}
}

func (h *Handler) probeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.deps.ProbeTimeout)
}
