// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package bridge

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/reclaimarr/reclaimarr/internal/bus"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/models"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// fakeConn records what the bridge sends and can be flipped to failing.
type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

func (c *fakeConn) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, data)
	return nil
}

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *fakeConn) topics(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, raw := range c.messages {
		var ev bus.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("undecodable envelope: %v", err)
		}
		out = append(out, ev.Topic)
	}
	return out
}

func waitCount(t *testing.T, c *fakeConn, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.count(); got != want {
		t.Fatalf("expected %d sends, got %d", want, got)
	}
}

func TestTopicFilterNarrowsDelivery(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)

	conn := &fakeConn{}
	br.RegisterConnection("c1", conn.send, Filter{Topics: []string{"download.*"}})

	b.Publish(models.TopicDownloadStarted, models.DownloadStarted{Item: models.QueueItem{ID: "a"}})
	b.Publish(models.TopicRecoveryAttempted, models.RecoveryAttempted{})

	waitCount(t, conn, 1)
	time.Sleep(20 * time.Millisecond)
	if got := conn.topics(t); len(got) != 1 || got[0] != models.TopicDownloadStarted {
		t.Errorf("delivered topics = %v, want only download.started", got)
	}
}

func TestDefaultFilterReceivesEverything(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)

	conn := &fakeConn{}
	br.RegisterConnection("c1", conn.send, Filter{})

	b.Publish(models.TopicDownloadStarted, models.DownloadStarted{Item: models.QueueItem{ID: "a"}})
	b.Publish(models.TopicRecoveryAttempted, models.RecoveryAttempted{})
	b.Publish(models.TopicMonitoringDegraded, models.MonitoringDegraded{})

	waitCount(t, conn, 3)
}

func TestDeregisteredConnectionNeverReceives(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)

	conn := &fakeConn{}
	br.RegisterConnection("c1", conn.send, Filter{Topics: []string{"download.*"}})
	br.DeregisterConnection("c1")

	b.Publish(models.TopicDownloadStarted, models.DownloadStarted{Item: models.QueueItem{ID: "a"}})

	time.Sleep(50 * time.Millisecond)
	if got := conn.count(); got != 0 {
		t.Errorf("deregistered connection received %d sends", got)
	}
	if got := br.ConnectionCount(); got != 0 {
		t.Errorf("connection count = %d after deregister", got)
	}
}

func TestDeregisterIsIdempotent(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)

	conn := &fakeConn{}
	br.RegisterConnection("c1", conn.send, Filter{})
	br.DeregisterConnection("c1")
	br.DeregisterConnection("c1")
	br.DeregisterConnection("unknown")
}

func TestSendErrorPrunesOnlyTheDeadConnection(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)

	dead := &fakeConn{}
	alive := &fakeConn{}
	br.RegisterConnection("dead", dead.send, Filter{})
	br.RegisterConnection("alive", alive.send, Filter{})

	dead.fail(errors.New("broken pipe"))
	b.Publish(models.TopicDownloadStarted, models.DownloadStarted{Item: models.QueueItem{ID: "a"}})

	waitCount(t, alive, 1)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && br.ConnectionCount() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := br.ConnectionCount(); got != 1 {
		t.Fatalf("dead connection not pruned: count = %d", got)
	}

	// The survivor keeps receiving after the prune.
	b.Publish(models.TopicDownloadCompleted, models.DownloadCompleted{Item: models.QueueItem{ID: "a"}})
	waitCount(t, alive, 2)
	if got := dead.count(); got != 0 {
		t.Errorf("dead connection recorded %d sends", got)
	}
}

func TestCorrelationPrefixFilter(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)

	conn := &fakeConn{}
	br.RegisterConnection("c1", conn.send, Filter{CorrelationPrefix: "trace-"})

	b.PublishCorrelated(models.TopicDownloadStarted, "trace-123", models.DownloadStarted{})
	b.PublishCorrelated(models.TopicDownloadStarted, "other-456", models.DownloadStarted{})
	b.PublishCorrelated(models.TopicDownloadFailed, "trace-789", models.DownloadFailed{})

	waitCount(t, conn, 2)
	time.Sleep(20 * time.Millisecond)
	if got := conn.count(); got != 2 {
		t.Errorf("correlation filter let through %d events, want 2", got)
	}
}

func TestReregisterReplacesConnection(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	br := New(b)

	first := &fakeConn{}
	second := &fakeConn{}
	br.RegisterConnection("c1", first.send, Filter{})
	br.RegisterConnection("c1", second.send, Filter{})

	b.Publish(models.TopicDownloadStarted, models.DownloadStarted{Item: models.QueueItem{ID: "a"}})

	waitCount(t, second, 1)
	time.Sleep(20 * time.Millisecond)
	if got := first.count(); got != 0 {
		t.Errorf("replaced connection still receiving: %d sends", got)
	}
	if got := br.ConnectionCount(); got != 1 {
		t.Errorf("connection count = %d, want 1", got)
	}
}
