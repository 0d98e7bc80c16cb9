// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package main is the entry point for the Reclaimarr server.
//
// Reclaimarr watches a download client's queue, turns state changes into
// events on an in-process bus, recovers failed downloads with escalating
// retry strategies, and fans events out to websocket clients and a durable
// audit log.
//
// The server initializes in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML file, env)
//  2. Gateway: HTTP client for the download client, wrapped in a circuit
//     breaker
//  3. Event bus, notification bridge, and websocket hub
//  4. Audit pipeline (optional, BadgerDB-backed)
//  5. Monitor poller and recovery engine
//  6. HTTP server: health, metrics, websocket, and read-only API
//
// All long-running components run under a suture supervision tree and shut
// down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/reclaimarr/reclaimarr/internal/api"
	"github.com/reclaimarr/reclaimarr/internal/audit"
	"github.com/reclaimarr/reclaimarr/internal/bridge"
	"github.com/reclaimarr/reclaimarr/internal/bus"
	"github.com/reclaimarr/reclaimarr/internal/config"
	"github.com/reclaimarr/reclaimarr/internal/gateway"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/monitor"
	"github.com/reclaimarr/reclaimarr/internal/recovery"
	"github.com/reclaimarr/reclaimarr/internal/supervisor"
	"github.com/reclaimarr/reclaimarr/internal/supervisor/services"
	"github.com/reclaimarr/reclaimarr/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: search standard locations)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration load failed")
	}

	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
	})
	logging.Info().
		Str("downloader", cfg.Downloader.URL).
		Dur("poll_interval", cfg.Monitor.Interval).
		Msg("reclaimarr starting")

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("server failed")
	}
	logging.Info().Msg("reclaimarr stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Gateway with circuit breaker protection.
	httpClient := gateway.NewHTTPClient(gateway.HTTPConfig{
		URL:               cfg.Downloader.URL,
		APIKey:            cfg.Downloader.APIKey,
		Timeout:           cfg.Downloader.Timeout,
		RequestsPerSecond: cfg.Downloader.RequestsPerSecond,
	})
	gw := gateway.NewBreakerClient(httpClient, gateway.BreakerConfig{
		FailureThreshold: cfg.Downloader.BreakerFailureThreshold,
		OpenTimeout:      cfg.Downloader.BreakerOpenTimeout,
	})

	// Event plumbing.
	eventBus := bus.New(bus.Config{Backlog: cfg.Bus.Backlog})
	defer eventBus.Close()
	notifyBridge := bridge.New(eventBus)
	hub := websocket.NewHub(notifyBridge)

	// Core components.
	poller := monitor.New(gw, eventBus, monitor.Config{
		Interval:          cfg.Monitor.Interval,
		CallTimeout:       cfg.Monitor.CallTimeout,
		DegradedThreshold: cfg.Monitor.DegradedThreshold,
		RemovalGracePolls: cfg.Monitor.RemovalGracePolls,
		BackoffInitial:    cfg.Monitor.BackoffInitial,
		BackoffMax:        cfg.Monitor.BackoffMax,
	})
	engine := recovery.New(gw, eventBus, recovery.Config{
		BaseDelay:   cfg.Recovery.BaseDelay,
		Multiplier:  cfg.Recovery.Multiplier,
		MaxDelay:    cfg.Recovery.MaxDelay,
		CallTimeout: cfg.Recovery.CallTimeout,
		QueueSize:   cfg.Recovery.QueueSize,
	})

	// Audit pipeline (optional).
	var auditStore *audit.Store
	var auditPipeline *audit.Pipeline
	if cfg.Audit.Enabled {
		var err error
		auditStore, err = audit.Open(audit.StoreConfig{
			Path:      cfg.Audit.Path,
			Retention: cfg.Audit.Retention,
		})
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer func() {
			if err := auditStore.Close(); err != nil {
				logging.Error().Err(err).Msg("audit store close failed")
			}
		}()

		auditPipeline, err = audit.NewPipeline(eventBus, auditStore, audit.PipelineConfig{})
		if err != nil {
			return fmt.Errorf("build audit pipeline: %w", err)
		}
	} else {
		logging.Info().Msg("audit log disabled")
	}

	// HTTP surface.
	handler := &api.Handler{
		Gateway:    gw,
		Breaker:    gw,
		Poller:     poller,
		Engine:     engine,
		AuditStore: auditStore,
		ServeWS:    hub.ServeWS,
	}
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:        cfg.Server.CORSOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddCoreService(services.NewRunnerService("monitor-poller", poller))
	tree.AddCoreService(services.NewRunnerService("recovery-engine", engine))
	if auditPipeline != nil {
		tree.AddCoreService(services.NewRunnerService("audit-pipeline", auditPipeline))
	}
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))
	logging.Info().Str("addr", server.Addr).Msg("http server service added")

	// Shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	err := tree.Serve(ctx)

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}
	return err
}
