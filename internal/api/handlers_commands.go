// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/fleetbridge/internal/command"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/workerpool"
)

// Device callback statuses accepted by UpdateCommandStatus.
const (
	StatusAcknowledged = "acknowledged"
	StatusExecuting    = "executing"
	StatusExecuted     = "executed"
	StatusFailed       = "failed"
)

// ListCommandsRequest holds the list query parameters.
type ListCommandsRequest struct {
	DeviceID         string   `json:"deviceId" validate:"max=128"`
	ProviderDeviceID int64    `json:"providerDeviceId" validate:"gte=0"`
	States           []string `json:"state" validate:"dive,oneof=PENDING SENT ACKNOWLEDGED EXECUTING EXECUTED FAILED TIMEOUT CANCELLED RETRY"`
	Active           bool     `json:"active"`
	Limit            int      `json:"limit" validate:"gte=1,lte=1000"`
}

// CancelCommandRequest is the optional cancel body.
type CancelCommandRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=256"`
}

// CommandStatusRequest is a device or provider callback.
type CommandStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=acknowledged executing executed failed"`
	Result string `json:"result,omitempty" validate:"max=1024"`
	// Retryable applies to failed. Device-reported failures are final unless set.
	Retryable *bool `json:"retryable,omitempty"`
}

func (h *Handler) commandsAvailable(w http.ResponseWriter) bool {
	if h.deps.Commands == nil {
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Command dispatcher not configured", nil)
		return false
	}
	return true
}

// respondCommandError maps dispatcher errors onto HTTP statuses.
func respondCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, command.ErrNotFound):
		respondError(w, http.StatusNotFound, models.CodeNotFound, "Command not found", nil)
	case errors.Is(err, command.ErrTerminal), errors.Is(err, command.ErrIllegalTransition):
		respondError(w, http.StatusConflict, models.CodeConflict, err.Error(), nil)
	case errors.Is(err, command.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, models.CodeValidation, err.Error(), nil)
	case errors.Is(err, workerpool.ErrQueueFull), errors.Is(err, workerpool.ErrPoolClosed):
		respondError(w, http.StatusServiceUnavailable, models.CodeUnavailable, "Command queue unavailable", err)
	default:
		respondError(w, http.StatusInternalServerError, models.CodeInternal, "Command operation failed", err)
	}
}

// ListCommands lists commands, oldest first.
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.commandsAvailable(w) {
		return
	}
	q := r.URL.Query()
	req := ListCommandsRequest{DeviceID: q.Get("deviceId"), Limit: 100}
	if v := q.Get("providerDeviceId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, models.CodeValidation, "providerDeviceId must be an integer", nil)
			return
		}
		req.ProviderDeviceID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, models.CodeValidation, "limit must be an integer", nil)
			return
		}
		req.Limit = n
	}
	if v := q.Get("state"); v != "" {
		for _, s := range strings.Split(v, ",") {
			req.States = append(req.States, strings.ToUpper(strings.TrimSpace(s)))
		}
	}
	req.Active = q.Get("active") == "true"
	if !validateRequest(w, &req) {
		return
	}

	filter := command.Filter{
		ProviderDeviceID: req.ProviderDeviceID,
		DeviceID:         req.DeviceID,
		NonTerminal:      req.Active,
		Limit:            req.Limit,
	}
	for _, s := range req.States {
		filter.States = append(filter.States, command.State(s))
	}
	cmds, err := h.deps.Commands.List(r.Context(), filter)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	if cmds == nil {
		cmds = []*command.Command{}
	}
	respondData(w, http.StatusOK, cmds, start)
}

// SubmitCommand accepts a new command and queues its first send.
func (h *Handler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.commandsAvailable(w) {
		return
	}
	var req command.SubmitRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	cmd, err := h.deps.Commands.Submit(r.Context(), req)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/commands/"+cmd.ID)
	respondData(w, http.StatusAccepted, cmd, start)
}

// GetCommand returns one command with its history.
func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.commandsAvailable(w) {
		return
	}
	cmd, err := h.deps.Commands.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondData(w, http.StatusOK, cmd, start)
}

// CancelCommand cancels a command that has not been acknowledged.
func (h *Handler) CancelCommand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.commandsAvailable(w) {
		return
	}
	var req CancelCommandRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}
	cmd, err := h.deps.Commands.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondData(w, http.StatusOK, cmd, start)
}

// UpdateCommandStatus applies a device callback to the command state machine.
func (h *Handler) UpdateCommandStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.commandsAvailable(w) {
		return
	}
	var req CommandStatusRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	id := chi.URLParam(r, "id")
	ctx := r.Context()
	var (
		cmd *command.Command
		err error
	)
	switch req.Status {
	case StatusAcknowledged:
		cmd, err = h.deps.Commands.Acknowledge(ctx, id, req.Result)
	case StatusExecuting:
		cmd, err = h.deps.Commands.MarkExecuting(ctx, id, req.Result)
	case StatusExecuted:
		cmd, err = h.deps.Commands.MarkExecuted(ctx, id, req.Result)
	case StatusFailed:
		reason := req.Result
		if reason == "" {
			reason = "device reported failure"
		}
		cmd, err = h.deps.Commands.Fail(ctx, id, reason, req.Retryable != nil && *req.Retryable)
	}
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondData(w, http.StatusOK, cmd, start)
}
