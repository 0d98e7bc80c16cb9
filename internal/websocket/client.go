// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reclaimarr/reclaimarr/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 // inbound frames are control-only
	sendBuffer     = 256
)

// ErrClientGone is returned by Send once the client's outbound channel is
// closed or saturated. The bridge treats it as a dead-connection signal.
var ErrClientGone = errors.New("websocket client gone")

// Client is the middleman between one websocket connection and the hub. The
// bridge pushes serialized events through Send; the write pump drains them to
// the wire with deadlines and keepalive pings.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// ID returns the connection identifier the client is registered under.
func (c *Client) ID() string {
	return c.id
}

// Send enqueues one serialized event for delivery. It never blocks: a closed
// or saturated client reports ErrClientGone instead, and the caller prunes it.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientGone
	}
}

// closeSend closes the outbound channel exactly once. Further Send calls
// return ErrClientGone rather than panicking.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// start begins the read and write pumps.
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes inbound frames until the connection dies. Clients send
// nothing meaningful; the pump exists to service pong handlers and to detect
// closure promptly.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Debug().Str("client_id", c.id).Err(err).Msg("unexpected websocket close")
			}
			return
		}
	}
}

// writePump drains the send channel to the wire and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
