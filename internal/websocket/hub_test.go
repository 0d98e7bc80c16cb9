// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	"github.com/reclaimarr/reclaimarr/internal/bridge"
	"github.com/reclaimarr/reclaimarr/internal/bus"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/models"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type wsFixture struct {
	bus    *bus.Bus
	hub    *Hub
	server *httptest.Server
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()

	b := bus.New(bus.Config{})
	br := bridge.New(b)
	hub := NewHub(br)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))

	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
		b.Close()
	})
	return &wsFixture{bus: b, hub: hub, server: server}
}

func (f *wsFixture) dial(t *testing.T, query string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + query
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	// Registration with the bridge happens after the upgrade completes;
	// give the server a moment before publishing.
	time.Sleep(50 * time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *gorilla.Conn) bus.Event {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev bus.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("undecodable frame: %v", err)
	}
	return ev
}

func TestClientReceivesPublishedEvents(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")

	f.bus.Publish(models.TopicDownloadStarted, models.DownloadStarted{
		Item: models.QueueItem{ID: "a", Title: "title-a"},
	})

	ev := readEvent(t, conn)
	if ev.Topic != models.TopicDownloadStarted {
		t.Errorf("topic = %s, want download.started", ev.Topic)
	}
	if ev.Sequence == 0 || ev.CorrelationID == "" {
		t.Errorf("envelope missing sequence or correlation id: %+v", ev)
	}
}

func TestTopicsQueryParameterNarrowsSubscription(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "?topics=recovery.*")

	f.bus.Publish(models.TopicDownloadStarted, models.DownloadStarted{})
	f.bus.Publish(models.TopicRecoveryExhausted, models.RecoveryExhausted{ItemID: "a"})

	ev := readEvent(t, conn)
	if ev.Topic != models.TopicRecoveryExhausted {
		t.Errorf("first delivered topic = %s, want recovery.exhausted", ev.Topic)
	}
}

func TestDisconnectDeregistersFromBridge(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")

	if got := f.bus.SubscriptionCount(); got != 1 {
		t.Fatalf("subscription count after connect = %d, want 1", got)
	}

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.bus.SubscriptionCount() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := f.bus.SubscriptionCount(); got != 0 {
		t.Errorf("subscription count after disconnect = %d, want 0", got)
	}
}

func TestMultipleClientsReceiveIndependently(t *testing.T) {
	f := newFixture(t)
	conn1 := f.dial(t, "")
	conn2 := f.dial(t, "?topics=download.*")

	f.bus.Publish(models.TopicDownloadCompleted, models.DownloadCompleted{
		Item: models.QueueItem{ID: "a"},
	})

	for _, conn := range []*gorilla.Conn{conn1, conn2} {
		ev := readEvent(t, conn)
		if ev.Topic != models.TopicDownloadCompleted {
			t.Errorf("topic = %s, want download.completed", ev.Topic)
		}
	}
}
