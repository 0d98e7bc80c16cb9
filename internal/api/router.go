// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package api provides HTTP routing using the Chi router: operator health
// and metrics endpoints, read-only views over the monitor and recovery
// state, the audit listing, and the websocket upgrade.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds routing and middleware tuning.
type RouterConfig struct {
	// CORSOrigins lists allowed origins. Empty disables CORS headers.
	CORSOrigins []string

	// RateLimitPerMinute bounds requests per client IP on the API routes.
	// Default: 300.
	RateLimitPerMinute int
}

// Router wires handlers and middleware into an http.Handler.
type Router struct {
	handler *Handler
	cfg     RouterConfig
}

// NewRouter creates a router around the given handler set.
func NewRouter(h *Handler, cfg RouterConfig) *Router {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 300
	}
	return &Router{handler: h, cfg: cfg}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	if len(router.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: router.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", router.handler.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.cfg.RateLimitPerMinute, time.Minute))
		r.Get("/queue", router.handler.Queue)
		r.Get("/recovery", router.handler.Recovery)
		r.Get("/audit", router.handler.Audit)
	})

	return r
}
