// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package websocket is the connection-management layer in front of the
// notification bridge. It owns accepting connections, message framing, and
// keepalive; the bridge owns which events each connection receives. Each
// accepted connection is registered with the bridge under a fresh ID with
// the topic filters parsed from the upgrade request, and deregistered the
// moment its pumps exit.
package websocket

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reclaimarr/reclaimarr/internal/bridge"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are same-origin through the embedded UI; API consumers
	// connect directly. Origin enforcement belongs to the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub maintains the set of live websocket clients and their bridge
// registrations.
type Hub struct {
	bridge *bridge.Bridge

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub wired to the given bridge.
func NewHub(br *bridge.Bridge) *Hub {
	return &Hub{
		bridge:     br,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// RunWithContext owns the client registry until the context is canceled.
// Designed for suture supervision: on shutdown every client is deregistered
// from the bridge and its connection closed, so a supervisor restart never
// leaks orphaned subscriptions.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			logging.Info().
				Str("component", "websocket-hub").
				Msg("websocket hub stopped")
			return ctx.Err()

		case client := <-h.register:
			h.clients[client] = struct{}{}
			metrics.WebsocketConnections.Inc()
			logging.Info().
				Str("client_id", client.id).
				Int("total_clients", len(h.clients)).
				Msg("websocket client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			delete(h.clients, client)
			h.bridge.DeregisterConnection(client.id)
			client.closeSend()
			metrics.WebsocketConnections.Dec()
			logging.Info().
				Str("client_id", client.id).
				Int("total_clients", len(h.clients)).
				Msg("websocket client disconnected")
		}
	}
}

// closeAll tears down every client during shutdown. Runs on the hub
// goroutine after the pumps' unregister sends can no longer be serviced, so
// it touches the registry directly.
func (h *Hub) closeAll() {
	for client := range h.clients {
		h.bridge.DeregisterConnection(client.id)
		client.closeSend()
		_ = client.conn.Close()
		metrics.WebsocketConnections.Dec()
	}
	h.clients = make(map[*Client]struct{})
}

// ServeWS upgrades an HTTP request and registers the resulting connection
// with the bridge. Filters come from the query string: topics is a
// comma-separated list of patterns, correlation_prefix narrows by causal
// chain.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(uuid.NewString(), h, conn)
	filter := filterFromQuery(r)

	h.register <- client
	h.bridge.RegisterConnection(client.id, client.Send, filter)
	client.start()
}

func filterFromQuery(r *http.Request) bridge.Filter {
	var f bridge.Filter
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, topic := range strings.Split(raw, ",") {
			if topic = strings.TrimSpace(topic); topic != "" {
				f.Topics = append(f.Topics, topic)
			}
		}
	}
	f.CorrelationPrefix = r.URL.Query().Get("correlation_prefix")
	return f
}
