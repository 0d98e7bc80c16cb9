// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package bridge fans bus events out to live client connections.
//
// The bridge sits between the bus and the connection-management layer (the
// websocket server): that layer owns accepting connections and framing
// messages, the bridge owns subscription lifecycle and dead-connection
// cleanup. Filtering happens by narrowing the bus subscription pattern at
// registration time, never by subscribing broadly and discarding downstream,
// so non-matching events cost a connection nothing.
package bridge

import (
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/reclaimarr/reclaimarr/internal/bus"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
)

// SendFunc pushes one serialized event to a connection. A non-nil error is a
// dead-connection signal; the bridge deregisters the connection in response.
type SendFunc func([]byte) error

// Filter narrows what a connection receives.
type Filter struct {
	// Topics are bus patterns ("download.*", "recovery.exhausted").
	// Empty means everything.
	Topics []string

	// CorrelationPrefix, when set, drops events whose correlation ID does
	// not start with it. Applied after topic matching.
	CorrelationPrefix string
}

func (f Filter) patterns() []string {
	if len(f.Topics) == 0 {
		return []string{"*"}
	}
	return f.Topics
}

type connection struct {
	clientID string
	send     SendFunc
	subs     []*bus.Subscription
}

// Bridge routes bus events to registered connections.
type Bridge struct {
	bus *bus.Bus

	mu    sync.Mutex
	conns map[string]*connection
}

// New creates a bridge on the given bus.
func New(b *bus.Bus) *Bridge {
	return &Bridge{
		bus:   b,
		conns: make(map[string]*connection),
	}
}

// RegisterConnection subscribes on behalf of clientID with the connection's
// requested patterns and routes each matching event through send. Registering
// an already-registered clientID replaces the previous registration.
func (br *Bridge) RegisterConnection(clientID string, send SendFunc, filter Filter) {
	conn := &connection{clientID: clientID, send: send}
	for _, pattern := range filter.patterns() {
		sub := br.bus.SubscribeAs(clientID, pattern, br.handlerFor(conn, filter))
		conn.subs = append(conn.subs, sub)
	}

	br.mu.Lock()
	prev := br.conns[clientID]
	br.conns[clientID] = conn
	br.mu.Unlock()

	if prev != nil {
		br.teardown(prev)
	}

	logging.Debug().
		Str("client_id", clientID).
		Strs("patterns", filter.patterns()).
		Msg("connection registered")
}

// DeregisterConnection removes the connection and its subscriptions. It is
// idempotent; after it returns, send is never invoked again for that client.
func (br *Bridge) DeregisterConnection(clientID string) {
	br.mu.Lock()
	conn := br.conns[clientID]
	delete(br.conns, clientID)
	br.mu.Unlock()

	if conn == nil {
		return
	}
	br.teardown(conn)
	logging.Debug().Str("client_id", clientID).Msg("connection deregistered")
}

// ConnectionCount returns the number of live connections.
func (br *Bridge) ConnectionCount() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.conns)
}

// handlerFor builds the per-subscription handler. It runs on the
// subscription's delivery goroutine; a slow or dead connection only ever
// delays itself.
func (br *Bridge) handlerFor(conn *connection, filter Filter) bus.Handler {
	return func(ev bus.Event) {
		if filter.CorrelationPrefix != "" && !strings.HasPrefix(ev.CorrelationID, filter.CorrelationPrefix) {
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			logging.Error().
				Str("topic", ev.Topic).
				Err(err).
				Msg("event serialization failed, skipping delivery")
			return
		}

		if err := conn.send(data); err != nil {
			logging.Info().
				Str("client_id", conn.clientID).
				Err(err).
				Msg("send failed, pruning dead connection")
			br.dropIfCurrent(conn)
			return
		}
		metrics.WebsocketMessagesSent.Inc()
	}
}

// dropIfCurrent deregisters conn only if it is still the registered
// connection for its clientID, so a replacement registered under the same ID
// is not torn down by a late failure from its predecessor.
func (br *Bridge) dropIfCurrent(conn *connection) {
	br.mu.Lock()
	current := br.conns[conn.clientID] == conn
	if current {
		delete(br.conns, conn.clientID)
	}
	br.mu.Unlock()

	if current {
		br.teardown(conn)
	}
}

func (br *Bridge) teardown(conn *connection) {
	for _, sub := range conn.subs {
		br.bus.Unsubscribe(sub)
	}
}
