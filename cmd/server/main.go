// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/fleetbridge/internal/api"
	"github.com/tomtom215/fleetbridge/internal/checkpoint"
	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/command"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/directory"
	"github.com/tomtom215/fleetbridge/internal/events"
	"github.com/tomtom215/fleetbridge/internal/ingest"
	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/middleware"
	"github.com/tomtom215/fleetbridge/internal/provider"
	"github.com/tomtom215/fleetbridge/internal/stats"
	"github.com/tomtom215/fleetbridge/internal/storage"
	"github.com/tomtom215/fleetbridge/internal/supervisor"
	"github.com/tomtom215/fleetbridge/internal/supervisor/services"
	syncpkg "github.com/tomtom215/fleetbridge/internal/sync"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().Str("version", version).Msg("Starting FleetBridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		logging.Error().Err(err).Msg("FleetBridge stopped with error")
		cancel()
		os.Exit(1)
	}
	logging.Info().Msg("FleetBridge stopped")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) error {
	clk := clock.Real()

	db, err := storage.Open(&cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close storage")
		}
	}()
	logging.Info().Str("path", cfg.Storage.Path).Bool("in_memory", cfg.Storage.InMemory).Msg("Storage opened")

	dir, err := directory.New(ctx, &cfg.Directory)
	if err != nil {
		return err
	}
	defer func() {
		if err := dir.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close device directory")
		}
	}()
	logging.Info().Str("backend", cfg.Directory.Backend).Msg("Device directory ready")

	var (
		client  provider.Client = provider.NewHTTPClient(&cfg.Provider)
		breaker api.BreakerReporter
	)
	if cfg.Provider.CircuitBreaker {
		bc := provider.NewBreakerClient(client)
		client, breaker = bc, bc
	}
	client = provider.NewFallbackClient(client)

	bus, err := events.Open(ctx, &cfg.NATS, logging.NewWatermillAdapter())
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close event bus")
		}
	}()
	builder := events.NewBuilder(cfg.Provider.Source, clk)

	syncPool := workerpool.New("sync", cfg.Pools.SyncWorkers, cfg.Pools.SyncQueue)
	commandPool := workerpool.New("commands", cfg.Pools.CommandWorkers, cfg.Pools.CommandQueue)
	pools := []*workerpool.Pool{syncPool, commandPool}
	var ingestPool *workerpool.Pool
	if cfg.Ingest.Enabled {
		ingestPool = workerpool.New("ingest", cfg.Pools.IngestWorkers, cfg.Pools.IngestQueue)
		pools = append(pools, ingestPool)
	}
	defer func() {
		for _, p := range pools {
			if err := p.Shutdown(cfg.Pools.ShutdownGrace); err != nil {
				logging.Warn().Err(err).Str("pool", p.Name()).Msg("Worker pool did not drain in time")
			}
		}
	}()

	errs := stats.NewErrorTracker(clk)
	perf := stats.NewPerfCounters(clk)
	checkpoints := checkpoint.NewBadgerStore(db)

	dispatcher := command.NewDispatcher(
		command.NewConfig(&cfg.Commands, cfg.Storage.CommandRetention, clk),
		command.Deps{
			Store:     command.NewBadgerStore(db),
			Sender:    client,
			Publisher: bus.Publisher(),
			Builder:   builder,
			Pool:      commandPool,
			Clock:     clk,
			Errors:    errs,
			Perf:      perf,
		},
	)

	engine := syncpkg.NewEngine(cfg.Sync, syncpkg.Deps{
		Client:      client,
		Directory:   dir,
		Checkpoints: checkpoints,
		Publisher:   bus.Publisher(),
		Builder:     builder,
		Commands:    dispatcher,
		Clock:       clk,
		Errors:      errs,
		Perf:        perf,
	})
	manager := syncpkg.NewManager(engine, syncPool, cfg.Sync)

	compactor := storage.NewCompactor(db, cfg.Storage.GCInterval)
	compactor.AddPurge("commands", dispatcher.PurgeTerminal)

	monitor := middleware.NewPerformanceMonitor(1000, time.Second)
	handler := api.NewHandler(api.Deps{
		Version:     version,
		Sync:        manager,
		Commands:    dispatcher,
		Provider:    client,
		Breaker:     breaker,
		Directory:   dir,
		Bus:         bus,
		Checkpoints: checkpoints,
		Errors:      errs,
		Perf:        perf,
		Monitor:     monitor,
		Pools:       pools,
		Clock:       clk,
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(api.MiddlewareConfigFromServer(cfg.Server)))
	server := api.NewServer(cfg.Server, router)

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(manager)
	tree.AddDataService(compactor)
	if cfg.Ingest.Enabled {
		tree.AddDataService(ingest.New(cfg.Ingest, ingest.Deps{
			Pool:      ingestPool,
			Directory: dir,
			Publisher: bus.Publisher(),
			Builder:   builder,
			Clock:     clk,
			Errors:    errs,
			Perf:      perf,
		}))
	}
	tree.AddMessagingService(dispatcher)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Bool("sync_enabled", cfg.Sync.Enabled).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("ingest_enabled", cfg.Ingest.Enabled).
		Msg("Starting supervisor tree")

	errCh := tree.ServeBackground(ctx)
	err = <-errCh
	if err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
	}

	if unstopped, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return err
}
