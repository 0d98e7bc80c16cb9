// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package recovery

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/reclaimarr/reclaimarr/internal/bus"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/models"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

// fakeGateway records retry/search calls and serves configured errors.
type fakeGateway struct {
	mu        sync.Mutex
	retryErr  error
	searchErr error
	calls     []string // "retry:<id>" / "search:<id>"
}

func (f *fakeGateway) ListQueue(ctx context.Context) ([]models.QueueItem, error)   { return nil, nil }
func (f *fakeGateway) ListHistory(ctx context.Context) ([]models.QueueItem, error) { return nil, nil }
func (f *fakeGateway) HealthCheck(ctx context.Context) (bool, error)               { return true, nil }

func (f *fakeGateway) Retry(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "retry:"+id)
	return f.retryErr
}

func (f *fakeGateway) Search(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "search:"+id)
	return f.searchErr
}

func (f *fakeGateway) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recorder captures bus events for assertion.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func newRecorder(b *bus.Bus) *recorder {
	r := &recorder{}
	b.Subscribe("recovery.*", func(ev bus.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) byTopic(topic string) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, ev := range r.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) waitCount(t *testing.T, topic string, want int) []bus.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.byTopic(topic); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := r.byTopic(topic)
	if len(got) != want {
		t.Fatalf("topic %s: expected %d events, got %d", topic, want, len(got))
	}
	return got
}

// startEngine runs an engine with near-zero backoff and returns a stop func.
func startEngine(t *testing.T, gw *fakeGateway, b *bus.Bus, cfg Config) (*Engine, func()) {
	t.Helper()
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Millisecond
	}
	e := New(gw, b, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	// Give the engine a moment to subscribe before tests publish.
	time.Sleep(10 * time.Millisecond)
	return e, func() {
		cancel()
		<-done
	}
}

func publishFailed(b *bus.Bus, id, errMsg string) bus.Event {
	return b.Publish(models.TopicDownloadFailed, models.DownloadFailed{
		Item:  models.QueueItem{ID: id, Title: "t-" + id, Status: models.StatusFailed, LastError: errMsg},
		Error: errMsg,
	})
}

func publishCompleted(b *bus.Bus, id string) {
	b.Publish(models.TopicDownloadCompleted, models.DownloadCompleted{
		Item: models.QueueItem{ID: id, Status: models.StatusCompleted},
	})
}

func attemptPayload(t *testing.T, ev bus.Event) models.RecoveryAttempted {
	t.Helper()
	payload, ok := ev.Payload.(models.RecoveryAttempted)
	if !ok {
		t.Fatalf("unexpected payload type %T", ev.Payload)
	}
	return payload
}

func TestTransientFailuresEscalateDeterministically(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	rec := newRecorder(b)
	_, stop := startEngine(t, gw, b, Config{})
	defer stop()

	wantStrategies := []models.Strategy{
		models.StrategyImmediateRetry,
		models.StrategyQualityFallback,
		models.StrategyAlternateSource,
	}

	for i, want := range wantStrategies {
		publishFailed(b, "x", "connection timeout")
		attempts := rec.waitCount(t, models.TopicRecoveryAttempted, i+1)
		got := attemptPayload(t, attempts[i])
		if got.Attempt.Strategy != want {
			t.Errorf("attempt %d: strategy = %s, want %s", i+1, got.Attempt.Strategy, want)
		}
		if got.Attempt.AttemptNumber != i+1 {
			t.Errorf("attempt %d: number = %d", i+1, got.Attempt.AttemptNumber)
		}
	}

	// Fourth failure exhausts the ladder.
	publishFailed(b, "x", "connection timeout")
	exhausted := rec.waitCount(t, models.TopicRecoveryExhausted, 1)
	payload := exhausted[0].Payload.(models.RecoveryExhausted)
	if len(payload.Attempts) != 3 {
		t.Errorf("exhausted history: %d attempts, want 3", len(payload.Attempts))
	}
	if got := rec.byTopic(models.TopicRecoveryAttempted); len(got) != 3 {
		t.Errorf("a fourth attempt was executed: %d", len(got))
	}

	calls := gw.callLog()
	want := []string{"retry:x", "search:x", "search:x"}
	if len(calls) != len(want) {
		t.Fatalf("gateway calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestPermanentFailureShortCircuits(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	rec := newRecorder(b)
	_, stop := startEngine(t, gw, b, Config{})
	defer stop()

	publishFailed(b, "x", "authentication failed for indexer")

	rec.waitCount(t, models.TopicRecoveryPermanentFailure, 1)
	time.Sleep(30 * time.Millisecond)
	if got := rec.byTopic(models.TopicRecoveryAttempted); len(got) != 0 {
		t.Errorf("permanent failure consumed retry budget: %d attempts", len(got))
	}
	if calls := gw.callLog(); len(calls) != 0 {
		t.Errorf("gateway invoked for permanent failure: %v", calls)
	}
}

func TestQualityUnavailableSkipsToFallback(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	rec := newRecorder(b)
	_, stop := startEngine(t, gw, b, Config{})
	defer stop()

	publishFailed(b, "x", "no matching release found")

	attempts := rec.waitCount(t, models.TopicRecoveryAttempted, 1)
	got := attemptPayload(t, attempts[0])
	if got.Attempt.Strategy != models.StrategyQualityFallback {
		t.Errorf("strategy = %s, want quality_fallback", got.Attempt.Strategy)
	}
	if got.Attempt.AttemptNumber != 1 {
		t.Errorf("attempt number = %d, want 1", got.Attempt.AttemptNumber)
	}
	calls := gw.callLog()
	if len(calls) != 1 || calls[0] != "search:x" {
		t.Errorf("expected a single search call, got %v", calls)
	}
}

func TestCompletionWhileRetryingSucceeds(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	rec := newRecorder(b)
	e, stop := startEngine(t, gw, b, Config{})
	defer stop()

	failure := publishFailed(b, "x", "connection timeout")
	rec.waitCount(t, models.TopicRecoveryAttempted, 1)

	publishCompleted(b, "x")
	succeeded := rec.waitCount(t, models.TopicRecoverySucceeded, 1)

	if succeeded[0].CorrelationID != failure.CorrelationID {
		t.Error("recovery.succeeded lost the originating correlation id")
	}
	payload := succeeded[0].Payload.(models.RecoverySucceeded)
	if len(payload.Attempts) != 1 || payload.Attempts[0].Outcome != models.OutcomeSucceeded {
		t.Errorf("attempt history = %+v, want one succeeded attempt", payload.Attempts)
	}

	// State reset to Idle: the item no longer appears in the snapshot.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(e.Snapshot()) != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := e.Snapshot(); len(got) != 0 {
		t.Errorf("state not reset after success: %+v", got)
	}
}

func TestFailedRetryExecutionEscalates(t *testing.T) {
	gw := &fakeGateway{retryErr: errors.New("connection refused")}
	b := bus.New(bus.Config{})
	defer b.Close()
	rec := newRecorder(b)
	_, stop := startEngine(t, gw, b, Config{})
	defer stop()

	publishFailed(b, "x", "connection timeout")

	// The failed immediate retry is classified and escalates on its own,
	// without a further download.failed event.
	attempts := rec.waitCount(t, models.TopicRecoveryAttempted, 2)

	first := attemptPayload(t, attempts[0])
	if first.Attempt.Strategy != models.StrategyImmediateRetry || first.Error == "" {
		t.Errorf("first attempt = %+v, want failed immediate_retry", first)
	}
	if first.Attempt.Outcome != models.OutcomeFailedAgain {
		t.Errorf("first attempt outcome = %s, want failed_again", first.Attempt.Outcome)
	}
	second := attemptPayload(t, attempts[1])
	if second.Attempt.Strategy != models.StrategyQualityFallback {
		t.Errorf("second attempt strategy = %s, want quality_fallback", second.Attempt.Strategy)
	}
}

func TestCorrelationIDCarriedThroughChain(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	rec := newRecorder(b)
	_, stop := startEngine(t, gw, b, Config{})
	defer stop()

	failure := publishFailed(b, "x", "connection timeout")

	for i := 0; i < 3; i++ {
		rec.waitCount(t, models.TopicRecoveryAttempted, i+1)
		if i < 2 {
			publishFailed(b, "x", "connection timeout")
		}
	}
	publishFailed(b, "x", "connection timeout")
	exhausted := rec.waitCount(t, models.TopicRecoveryExhausted, 1)

	for _, ev := range rec.byTopic(models.TopicRecoveryAttempted) {
		if ev.CorrelationID != failure.CorrelationID {
			t.Errorf("attempted event correlation id = %s, want %s", ev.CorrelationID, failure.CorrelationID)
		}
	}
	if exhausted[0].CorrelationID != failure.CorrelationID {
		t.Error("exhausted event lost the originating correlation id")
	}
}

func TestPendingAttemptNotDuplicated(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	rec := newRecorder(b)
	_, stop := startEngine(t, gw, b, Config{BaseDelay: 150 * time.Millisecond, MaxDelay: time.Second})
	defer stop()

	// Two failures land while the first attempt is still waiting out its
	// backoff; the second must update nothing.
	publishFailed(b, "x", "connection timeout")
	time.Sleep(20 * time.Millisecond)
	publishFailed(b, "x", "connection timeout")

	attempts := rec.waitCount(t, models.TopicRecoveryAttempted, 1)
	time.Sleep(250 * time.Millisecond)
	if got := rec.byTopic(models.TopicRecoveryAttempted); len(got) != 1 {
		t.Fatalf("duplicate attempt scheduled: %d", len(got))
	}
	if payload := attemptPayload(t, attempts[0]); payload.Attempt.AttemptNumber != 1 {
		t.Errorf("attempt number = %d, want 1", payload.Attempt.AttemptNumber)
	}
}

func TestShutdownAbandonsPendingAttempt(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	rec := newRecorder(b)
	_, stop := startEngine(t, gw, b, Config{BaseDelay: 500 * time.Millisecond, MaxDelay: time.Second})

	publishFailed(b, "x", "connection timeout")
	time.Sleep(30 * time.Millisecond)
	stop()

	time.Sleep(100 * time.Millisecond)
	if calls := gw.callLog(); len(calls) != 0 {
		t.Errorf("attempt executed after shutdown: %v", calls)
	}
	if got := rec.byTopic(models.TopicRecoveryAttempted); len(got) != 0 {
		t.Errorf("attempted event published after shutdown: %d", len(got))
	}
}

func TestExecutedAttemptReleasesItsContext(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	e := New(gw, b, Config{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	released := false
	st := &itemState{
		correlationID: "corr-x",
		attempts: []models.RetryAttempt{{
			ItemID:        "x",
			AttemptNumber: 1,
			Strategy:      models.StrategyImmediateRetry,
			Outcome:       models.OutcomePending,
		}},
		scheduled: true,
		cancel:    func() { released = true },
	}
	e.putState("x", st)

	e.handleResult(ctx, attemptResult{itemID: "x", attemptNumber: 1})

	if !released {
		t.Error("attempt context not released after successful execution")
	}
	if st.cancel != nil {
		t.Error("cancel not cleared after release")
	}
	if st.scheduled {
		t.Error("attempt still scheduled after execution")
	}
}

func TestFailedExecutionReleasesContextBeforeRescheduling(t *testing.T) {
	gw := &fakeGateway{}
	b := bus.New(bus.Config{})
	defer b.Close()
	e := New(gw, b, Config{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	released := false
	st := &itemState{
		correlationID: "corr-y",
		attempts: []models.RetryAttempt{{
			ItemID:        "y",
			AttemptNumber: 1,
			Strategy:      models.StrategyImmediateRetry,
			Outcome:       models.OutcomePending,
		}},
		scheduled: true,
		cancel:    func() { released = true },
	}
	e.putState("y", st)

	e.handleResult(ctx, attemptResult{itemID: "y", attemptNumber: 1, err: errors.New("connection refused")})

	if !released {
		t.Error("first attempt's context not released before escalation")
	}
	// Escalation schedules the next attempt with its own fresh context.
	if st.cancel == nil {
		t.Error("escalated attempt has no cancel of its own")
	}
	if cur := st.current(); cur == nil || cur.AttemptNumber != 2 {
		t.Fatalf("expected escalated attempt 2, got %+v", st.current())
	}
}
