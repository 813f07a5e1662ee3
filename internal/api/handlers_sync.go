// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/models"
	syncpkg "github.com/tomtom215/fleetbridge/internal/sync"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

// TriggerResponse acknowledges a queued sync cycle.
type TriggerResponse struct {
	Stream        string `json:"stream"`
	Queued        bool   `json:"queued"`
	CorrelationID string `json:"correlation_id"`
}

// TriggerSync queues one cycle for the stream in the URL.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Sync == nil {
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Sync engine not configured", nil)
		return
	}
	stream := chi.URLParam(r, "stream")
	if !syncpkg.ValidStream(stream) {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "Unknown stream: "+stream, nil)
		return
	}

	ctx := logging.ContextWithNewCorrelationID(r.Context())
	correlationID := logging.CorrelationIDFromContext(ctx)

	err := h.deps.Sync.TriggerSync(stream)
	switch {
	case err == nil:
	case errors.Is(err, syncpkg.ErrCycleInProgress):
		respondError(w, http.StatusConflict, models.CodeConflict, "Sync already running for "+stream, nil)
		return
	case errors.Is(err, workerpool.ErrQueueFull), errors.Is(err, workerpool.ErrPoolClosed):
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Sync queue unavailable", err)
		return
	default:
		respondError(w, http.StatusInternalServerError, models.CodeInternal, "Failed to queue sync", err)
		return
	}

	logging.Ctx(ctx).Info().Str("stream", stream).Msg("Manual sync queued")
	respondData(w, http.StatusAccepted, TriggerResponse{
		Stream:        stream,
		Queued:        true,
		CorrelationID: correlationID,
	}, start)
}
