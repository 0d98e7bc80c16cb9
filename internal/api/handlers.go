// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/reclaimarr/reclaimarr/internal/audit"
	"github.com/reclaimarr/reclaimarr/internal/gateway"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/monitor"
	"github.com/reclaimarr/reclaimarr/internal/recovery"
)

const healthCheckTimeout = 5 * time.Second

// Handler bundles the read-side dependencies of the HTTP surface. AuditStore
// may be nil when the audit pipeline is disabled.
type Handler struct {
	Gateway    gateway.Client
	Breaker    *gateway.BreakerClient
	Poller     *monitor.Poller
	Engine     *recovery.Engine
	AuditStore *audit.Store
	ServeWS    http.HandlerFunc
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status       string `json:"status"`
	Gateway      bool   `json:"gateway"`
	Degraded     bool   `json:"degraded"`
	BreakerState string `json:"breaker_state,omitempty"`
}

// Health reports overall service health: gateway reachability, monitor
// degraded flag, and circuit breaker state. Degraded or unreachable still
// answers 200 with status "degraded"; the process itself is healthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	up, err := h.Gateway.HealthCheck(ctx)
	resp := healthResponse{
		Status:   "ok",
		Gateway:  up && err == nil,
		Degraded: h.Poller.Degraded(),
	}
	if h.Breaker != nil {
		resp.BreakerState = h.Breaker.State()
	}
	if !resp.Gateway || resp.Degraded {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// Queue returns the monitor's current tracked snapshot.
func (h *Handler) Queue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Poller.Snapshot())
}

// Recovery returns the per-item recovery states.
func (h *Handler) Recovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Snapshot())
}

// Audit returns recent audit entries, newest first. ?limit= bounds the count.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.AuditStore == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}

	entries, err := h.AuditStore.Recent(limit)
	if err != nil {
		logging.Error().Err(err).Msg("audit listing failed")
		writeError(w, http.StatusInternalServerError, "audit listing failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// WebSocket hands the request to the websocket hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
