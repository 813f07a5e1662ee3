// FleetBridge - GPS Telemetry Bridge and Device Command Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetbridge

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/fleetbridge/internal/clock"
	"github.com/tomtom215/fleetbridge/internal/config"
	"github.com/tomtom215/fleetbridge/internal/logging"
	"github.com/tomtom215/fleetbridge/internal/metrics"
	"github.com/tomtom215/fleetbridge/internal/models"
	"github.com/tomtom215/fleetbridge/internal/retry"
)

// maxErrorBodySize limits how much of an error response is kept.
const maxErrorBodySize = 64 * 1024

// maxRetryAfter caps how long a 429 Retry-After is honoured before the next attempt.
const maxRetryAfter = 30 * time.Second

var _ Client = (*HTTPClient)(nil)

// HTTPClient talks to the provider REST API.
type HTTPClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Policy
	clock      clock.Clock
}

// NewHTTPClient creates a client from provider configuration.
//
// ConnectTimeout bounds dialing and the TLS handshake; ReadTimeout bounds the wait for
// response headers. The overall request deadline is their sum.
func NewHTTPClient(cfg *config.ProviderConfig) *HTTPClient {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &HTTPClient{
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		retry: retry.Policy{
			MaxAttempts: attempts,
			BaseDelay:   cfg.RetryDelay,
			Multiplier:  2,
			Classify:    retry.IsRetryable,
			Clock:       clock.Real(),
		},
		clock: clock.Real(),
	}
}

// Devices lists the devices visible to the configured account.
func (c *HTTPClient) Devices(ctx context.Context) ([]models.ProviderDevice, error) {
	var devices []models.ProviderDevice
	if err := c.get(ctx, "devices", "/api/devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Positions returns positions in [From, To]. A zero To means now.
func (c *HTTPClient) Positions(ctx context.Context, q PositionQuery) ([]models.ProviderPosition, error) {
	params := url.Values{}
	if q.DeviceID != 0 {
		params.Set("deviceId", strconv.FormatInt(q.DeviceID, 10))
	}
	c.setWindow(params, q.From, q.To)

	var positions []models.ProviderPosition
	if err := c.get(ctx, "positions", "/api/positions", params, &positions); err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(positions) > q.Limit {
		positions = positions[:q.Limit]
	}
	return positions, nil
}

// Events returns device events in [From, To].
func (c *HTTPClient) Events(ctx context.Context, q EventQuery) ([]models.ProviderEvent, error) {
	params := url.Values{}
	if q.DeviceID != 0 {
		params.Set("deviceId", strconv.FormatInt(q.DeviceID, 10))
	}
	for _, t := range q.Types {
		params.Add("type", t)
	}
	c.setWindow(params, q.From, q.To)

	var evs []models.ProviderEvent
	if err := c.get(ctx, "events", "/api/reports/events", params, &evs); err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(evs) > q.Limit {
		evs = evs[:q.Limit]
	}
	return evs, nil
}

// SendCommand posts a command. It is not retried here: the command dispatcher owns
// retries so that every attempt is visible in the command's state.
func (c *HTTPClient) SendCommand(ctx context.Context, req CommandRequest) (*models.ProviderCommand, error) {
	attrs := req.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	body := models.ProviderCommand{
		DeviceID:    req.DeviceID,
		Type:        req.Type,
		Description: req.Description,
		Attributes:  attrs,
	}
	var sent models.ProviderCommand
	if err := c.do(ctx, "send_command", http.MethodPost, "/api/commands/send", nil, &body, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// CommandTypes lists command types the device supports.
func (c *HTTPClient) CommandTypes(ctx context.Context, deviceID int64) ([]models.ProviderCommandType, error) {
	params := url.Values{}
	params.Set("deviceId", strconv.FormatInt(deviceID, 10))
	var types []models.ProviderCommandType
	if err := c.get(ctx, "command_types", "/api/commands/types", params, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// ServerInfo returns provider server metadata. Used as the reachability probe.
func (c *HTTPClient) ServerInfo(ctx context.Context) (*models.ProviderServerInfo, error) {
	var info models.ProviderServerInfo
	if err := c.get(ctx, "server_info", "/api/server", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) setWindow(params url.Values, from, to time.Time) {
	if from.IsZero() {
		return
	}
	if to.IsZero() {
		to = c.clock.Now()
	}
	// Second precision truncates downwards, so the window never skips a record.
	params.Set("from", from.UTC().Format(time.RFC3339))
	params.Set("to", to.UTC().Format(time.RFC3339))
}

// get performs an idempotent GET with bounded retries on transport errors.
func (c *HTTPClient) get(ctx context.Context, op, path string, params url.Values, out any) error {
	return c.retry.DoNotify(ctx, func(ctx context.Context) error {
		return c.do(ctx, op, http.MethodGet, path, params, nil, out)
	}, func(attempt int, err error, next time.Duration) {
		logging.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("retry_in", next).Msg("Provider request failed, retrying")
	})
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, params url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindSemantic, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return &Error{Kind: KindSemantic, Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderRequest(op, 0, time.Since(start))
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordProviderRequest(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &Error{
			Kind:       kindForStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(readBodyForError(resp.Body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if resp.StatusCode == http.StatusTooManyRequests && perr.RetryAfter > 0 {
			logging.Warn().Str("op", op).Dur("retry_after", perr.RetryAfter).Msg("Provider rate limited (HTTP 429)")
			if err := c.sleep(ctx, perr.RetryAfter); err != nil {
				return &Error{Kind: KindTransport, Op: op, Err: err}
			}
		}
		return perr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return &Error{Kind: KindTransport, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *HTTPClient) sleep(ctx context.Context, d time.Duration) error {
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// readBodyForError reads at most maxErrorBodySize bytes, marking truncation.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return bytes.TrimSpace(body)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
