// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

/*
Package logging provides centralized zerolog-based logging for FleetBridge.

All packages log through the global helpers in this package so that level,
format and output are configured once at startup:

	logging.Init(logging.Config{Level: "info", Format: "json"})
	logging.Info().Str("stream", "positions").Int("published", n).Msg("Sync cycle complete")

Context-aware logging carries correlation and request IDs:

	ctx = logging.ContextWithNewCorrelationID(ctx)
	logging.Ctx(ctx).Warn().Err(err).Msg("Provider request failed")

Two bridges route third-party loggers into zerolog:

  - SlogHandler: log/slog records (used by the suture supervisor via sutureslog)
  - WatermillAdapter: watermill.LoggerAdapter (used by the event bus publishers)

Environment Variables:
  - LOG_LEVEL: trace, debug, info, warn, error (default: info)
  - LOG_FORMAT: json, console (default: json)
  - LOG_CALLER: true/false (default: false)
*/
package logging
