// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/models"
)

// BreakerClient wraps a Client with a circuit breaker so a flapping or dead
// download client stops consuming poll and retry budget. While the circuit
// is open every call fails fast with ErrUnavailable, which the monitor
// classifies as a loop-level (degraded) failure rather than a per-item one.
//
// The breaker uses real time for its open/half-open transitions. This is
// intentional: the timing governs recovery probing, not data integrity. Unit
// tests should exercise the wrapped client directly.
type BreakerClient struct {
	inner Client
	cb    *gobreaker.CircuitBreaker[any]
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold uint32

	// OpenTimeout is how long the circuit stays open before probing.
	// Default: 60s.
	OpenTimeout time.Duration
}

// NewBreakerClient wraps inner with circuit breaker protection.
func NewBreakerClient(inner Client, cfg BreakerConfig) *BreakerClient {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "download-client",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("gateway circuit breaker state transition")
		},
	})

	return &BreakerClient{inner: inner, cb: cb}
}

// execute runs fn through the breaker, mapping open/exhausted breaker errors
// to ErrUnavailable.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return result, nil
}

// ListQueue implements Client.
func (b *BreakerClient) ListQueue(ctx context.Context) ([]models.QueueItem, error) {
	result, err := b.execute(func() (any, error) { return b.inner.ListQueue(ctx) })
	if err != nil {
		return nil, err
	}
	return result.([]models.QueueItem), nil
}

// ListHistory implements Client.
func (b *BreakerClient) ListHistory(ctx context.Context) ([]models.QueueItem, error) {
	result, err := b.execute(func() (any, error) { return b.inner.ListHistory(ctx) })
	if err != nil {
		return nil, err
	}
	return result.([]models.QueueItem), nil
}

// Retry implements Client.
func (b *BreakerClient) Retry(ctx context.Context, id string) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.Retry(ctx, id) })
	return err
}

// Search implements Client.
func (b *BreakerClient) Search(ctx context.Context, id string) error {
	_, err := b.execute(func() (any, error) { return nil, b.inner.Search(ctx, id) })
	return err
}

// HealthCheck implements Client. Health probes bypass the breaker so the
// health endpoint can observe the real client state while the circuit is
// open.
func (b *BreakerClient) HealthCheck(ctx context.Context) (bool, error) {
	return b.inner.HealthCheck(ctx)
}

// State returns the current breaker state for the health surface.
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}
