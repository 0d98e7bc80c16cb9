// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package supervisor builds the suture supervision tree for the process.
//
// The tree has three layers for failure isolation:
//   - core: monitor poller, recovery engine, audit pipeline
//   - messaging: websocket hub
//   - api: HTTP server
//
// A crash loop in the core layer backs off without taking down the API, and
// vice versa.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervision tuning. Zero values take suture's defaults.
type TreeConfig struct {
	// FailureThreshold is the failure count before entering backoff.
	// Default: 5.
	FailureThreshold float64

	// FailureDecay is how fast failures decay, in seconds. Default: 30.
	FailureDecay float64

	// FailureBackoff is the pause once the threshold is exceeded.
	// Default: 15s.
	FailureBackoff time.Duration

	// ShutdownTimeout bounds graceful shutdown per service. Default: 10s.
	ShutdownTimeout time.Duration
}

func (c *TreeConfig) applyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Tree is the supervisor hierarchy.
type Tree struct {
	root      *suture.Supervisor
	core      *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
}

// NewTree creates the supervision tree. Supervisor lifecycle events are
// logged through the given slog logger (see logging.NewSlogLogger).
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	cfg.applyDefaults()

	handler := &sutureslog.Handler{Logger: logger}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("reclaimarr", rootSpec)
	core := suture.New("core-layer", childSpec)
	messaging := suture.New("messaging-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(core)
	root.Add(messaging)
	root.Add(api)

	return &Tree{root: root, core: core, messaging: messaging, api: api}
}

// AddCoreService supervises a service in the core layer (poller, recovery,
// audit).
func (t *Tree) AddCoreService(svc suture.Service) suture.ServiceToken {
	return t.core.Add(svc)
}

// AddMessagingService supervises a service in the messaging layer.
func (t *Tree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	return t.messaging.Add(svc)
}

// AddAPIService supervises a service in the API layer.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
