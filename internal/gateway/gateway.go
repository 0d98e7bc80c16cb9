// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package gateway defines the boundary to the external download client and
// provides the HTTP implementation plus a circuit-breaker decorator.
//
// The monitor and recovery engine depend only on the Client interface; every
// call takes a context and may return a transport-layer error that the caller
// is responsible for classifying.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/reclaimarr/reclaimarr/internal/models"
)

// ErrUnavailable indicates the gateway itself is unreachable or its circuit
// breaker is open. The monitor treats this as a loop-level failure (degraded
// mode), not a per-item failure.
var ErrUnavailable = errors.New("gateway unavailable")

// Client is the download client boundary consumed by the core.
type Client interface {
	// ListQueue returns the currently tracked queue items.
	ListQueue(ctx context.Context) ([]models.QueueItem, error)

	// ListHistory returns recently finished items. History is authoritative
	// for terminal state when the queue omits an item.
	ListHistory(ctx context.Context) ([]models.QueueItem, error)

	// Retry re-issues the original grab for the item.
	Retry(ctx context.Context, id string) error

	// Search triggers a fresh release search for the item. Used by the
	// quality-fallback and alternate-source strategies.
	Search(ctx context.Context, id string) error

	// HealthCheck reports whether the download client is reachable.
	HealthCheck(ctx context.Context) (bool, error)
}

// StatusError is returned for non-2xx gateway responses.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s: unexpected status %d: %s", e.Operation, e.Code, e.Body)
}
