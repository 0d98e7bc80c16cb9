// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

/*
http_client.go - Download Client HTTP Gateway

HTTP implementation of the Client interface against the download client's
REST API.

Client Features:
  - HTTP client with configurable timeout
  - API key authentication (X-Api-Key header)
  - Request rate limiting (token bucket, golang.org/x/time/rate)
  - JSON response parsing
  - Context support for cancellation and timeouts

Endpoint mapping:
  - ListQueue    -> GET  /api/v1/queue
  - ListHistory  -> GET  /api/v1/history
  - Retry        -> POST /api/v1/queue/{id}/retry
  - Search       -> POST /api/v1/search/{id}
  - HealthCheck  -> GET  /api/v1/health
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/reclaimarr/reclaimarr/internal/metrics"
	"github.com/reclaimarr/reclaimarr/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read back
// for diagnostics.
const maxErrorBodySize = 64 * 1024 // 64KB

// HTTPConfig holds the connection settings for the download client API.
type HTTPConfig struct {
	// URL is the base URL of the download client, e.g. http://localhost:8080.
	URL string

	// APIKey authenticates requests via the X-Api-Key header.
	APIKey string

	// Timeout bounds each HTTP request. Default: 10s.
	Timeout time.Duration

	// RequestsPerSecond caps the request rate against the client API.
	// Zero disables rate limiting.
	RequestsPerSecond float64
}

// HTTPClient is the production Client implementation speaking JSON over HTTP
// to the download client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a gateway client for the download client API.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

// queueItemDTO is the wire representation of a queue entry.
type queueItemDTO struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Size     int64   `json:"size"`
	Category string  `json:"category"`
	Error    string  `json:"error_message"`
}

// toModel normalizes the wire status vocabulary into the internal enum.
func (d queueItemDTO) toModel() models.QueueItem {
	status := models.Status(strings.ToLower(d.Status))
	switch strings.ToLower(d.Status) {
	case "downloading", "running":
		status = models.StatusActive
	case "pending", "waiting":
		status = models.StatusQueued
	case "error", "warning":
		status = models.StatusFailed
	case "done", "imported":
		status = models.StatusCompleted
	}
	if !status.Valid() {
		status = models.StatusQueued
	}
	return models.QueueItem{
		ID:              d.ID,
		Title:           d.Title,
		Status:          status,
		ProgressPercent: d.Progress,
		SizeBytes:       d.Size,
		Category:        d.Category,
		LastError:       d.Error,
	}
}

// ListQueue implements Client.
func (c *HTTPClient) ListQueue(ctx context.Context) ([]models.QueueItem, error) {
	return c.listItems(ctx, "queue", "/api/v1/queue")
}

// ListHistory implements Client.
func (c *HTTPClient) ListHistory(ctx context.Context) ([]models.QueueItem, error) {
	return c.listItems(ctx, "history", "/api/v1/history")
}

func (c *HTTPClient) listItems(ctx context.Context, operation, path string) ([]models.QueueItem, error) {
	var dtos []queueItemDTO
	if err := c.getJSON(ctx, operation, path, &dtos); err != nil {
		return nil, err
	}
	items := make([]models.QueueItem, 0, len(dtos))
	for _, d := range dtos {
		items = append(items, d.toModel())
	}
	return items, nil
}

// Retry implements Client.
func (c *HTTPClient) Retry(ctx context.Context, id string) error {
	return c.post(ctx, "retry", "/api/v1/queue/"+url.PathEscape(id)+"/retry")
}

// Search implements Client.
func (c *HTTPClient) Search(ctx context.Context, id string) error {
	return c.post(ctx, "search", "/api/v1/search/"+url.PathEscape(id))
}

// HealthCheck implements Client.
func (c *HTTPClient) HealthCheck(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, "health", http.MethodGet, "/api/v1/health")
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, operation, path string, out any) error {
	resp, err := c.do(ctx, operation, http.MethodGet, path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway %s: decode response: %w", operation, err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, operation, path string) error {
	resp, err := c.do(ctx, operation, http.MethodPost, path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(operation, resp)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, operation, method, path string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: build request: %w", operation, err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GatewayCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayCallErrors.WithLabelValues(operation).Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("gateway %s: timeout: %w", operation, err)
		}
		return nil, fmt.Errorf("gateway %s: %w", operation, err)
	}
	return resp, nil
}

func (c *HTTPClient) statusError(operation string, resp *http.Response) error {
	metrics.GatewayCallErrors.WithLabelValues(operation).Inc()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		body = []byte("(failed to read response body)")
	}
	return &StatusError{Operation: operation, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
