// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package recovery converts download.failed events into a bounded sequence
// of retry attempts with escalating strategies, and reports the terminal
// outcome as a single actionable event.
//
// Per-item state machine:
//
//	Idle -> Retrying(1, immediate_retry) -> ... -> Succeeded | GivenUp
//
// Strategies escalate immediate_retry -> quality_fallback ->
// alternate_source -> give_up across successive failures of the same item.
// Reaching give_up emits recovery.exhausted and resets to Idle so a later
// manual retry restarts the cycle cleanly. A download.completed while
// retrying emits recovery.succeeded and resets to Idle.
//
// All state transitions for every item run on the engine's single dispatch
// goroutine; retry attempts execute as deferred tasks that report back
// through a results channel, so classification never blocks event handling
// and transitions per item are strictly sequential.
package recovery

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/reclaimarr/reclaimarr/internal/bus"
	"github.com/reclaimarr/reclaimarr/internal/gateway"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
	"github.com/reclaimarr/reclaimarr/internal/models"
)

// Config holds retry-policy tuning.
type Config struct {
	// BaseDelay is the backoff before the first attempt. Default: 30s.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt. Default: 2.
	Multiplier float64

	// MaxDelay caps the computed backoff. Default: 10m.
	MaxDelay time.Duration

	// CallTimeout bounds each gateway retry/search call. Default: 15s.
	CallTimeout time.Duration

	// QueueSize is the internal event buffer between the bus subscription
	// and the dispatch goroutine. Default: 256.
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

// itemState tracks one item's recovery cycle. The last element of attempts
// is the current attempt. Owned exclusively by the dispatch goroutine; the
// engine mutex only covers map access for API snapshots.
type itemState struct {
	correlationID string
	attempts      []models.RetryAttempt
	scheduled     bool
	cancel        context.CancelFunc
}

func (st *itemState) current() *models.RetryAttempt {
	if len(st.attempts) == 0 {
		return nil
	}
	return &st.attempts[len(st.attempts)-1]
}

// attemptResult is reported back by a deferred retry task.
type attemptResult struct {
	itemID        string
	attemptNumber int
	err           error
}

// ItemStatus is a read-only view of one item's recovery state for the API.
type ItemStatus struct {
	ItemID        string                `json:"item_id"`
	CorrelationID string                `json:"correlation_id"`
	Attempts      []models.RetryAttempt `json:"attempts"`
	Scheduled     bool                  `json:"scheduled"`
}

// Engine is the recovery state machine driver.
type Engine struct {
	gw  gateway.Client
	bus *bus.Bus
	cfg Config

	mu     sync.RWMutex
	states map[string]*itemState

	events  chan bus.Event
	results chan attemptResult
}

// New creates an engine. Run must be called for it to do anything.
func New(gw gateway.Client, b *bus.Bus, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		gw:      gw,
		bus:     b,
		cfg:     cfg,
		states:  make(map[string]*itemState),
		events:  make(chan bus.Event, cfg.QueueSize),
		results: make(chan attemptResult, cfg.QueueSize),
	}
}

// Run subscribes to download events and dispatches until the context is
// canceled. On shutdown, pending backoff timers are canceled through context
// propagation: an attempt interrupted mid-backoff simply never executes and
// its outcome stays pending, so a restart resumes from Idle cleanly.
func (e *Engine) Run(ctx context.Context) error {
	sub := e.bus.Subscribe("download.*", func(ev bus.Event) {
		select {
		case e.events <- ev:
		default:
			// The dispatch queue is saturated; dropping is preferable to
			// blocking the bus. A dropped failure resurfaces on a later
			// attempt or failure; a dropped completion is not re-observed
			// (the monitor deduplicates terminal states), so the item stays
			// in Retrying until its next failure or removal event.
			logging.Warn().Str("topic", ev.Topic).Msg("recovery event queue full, event dropped")
		}
	})
	defer e.bus.Unsubscribe(sub)

	logging.Info().
		Dur("base_delay", e.cfg.BaseDelay).
		Float64("multiplier", e.cfg.Multiplier).
		Dur("max_delay", e.cfg.MaxDelay).
		Msg("recovery engine started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("recovery engine stopped")
			return ctx.Err()
		case ev := <-e.events:
			e.handleEvent(ctx, ev)
		case res := <-e.results:
			e.handleResult(ctx, res)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev bus.Event) {
	switch payload := ev.Payload.(type) {
	case models.DownloadFailed:
		e.onFailure(ctx, payload.Item.ID, payload.Error, ev.CorrelationID)
	case models.DownloadCompleted:
		e.onCompleted(payload.Item.ID)
	case models.DownloadRemoved:
		e.onRemoved(payload.ItemID)
	}
}

// onFailure advances the state machine for a failure observed by the
// monitor. A failure for an item with an already-scheduled pending attempt
// updates nothing: the existing attempt stands, no duplicate is created.
func (e *Engine) onFailure(ctx context.Context, itemID, errMsg, correlationID string) {
	st := e.state(itemID)
	if st == nil {
		st = &itemState{correlationID: correlationID}
		e.putState(itemID, st)
	}
	if st.scheduled {
		logging.Debug().Str("item_id", itemID).Msg("failure while attempt pending, keeping existing schedule")
		return
	}
	e.advance(ctx, itemID, st, ClassifyMessage(errMsg), errMsg)
}

// advance classifies, picks the next strategy, and schedules the deferred
// attempt. Called both for monitor-observed failures and for failed retry
// executions, which are evaluated exactly like original failures.
func (e *Engine) advance(ctx context.Context, itemID string, st *itemState, class Classification, errMsg string) {
	if class == ClassPermanent {
		e.bus.PublishCorrelated(models.TopicRecoveryPermanentFailure, st.correlationID,
			models.RecoveryPermanentFailure{ItemID: itemID, Error: errMsg})
		logging.Info().
			Str("item_id", itemID).
			Str("error", errMsg).
			Msg("permanent failure, not retrying")
		e.drop(itemID)
		return
	}

	attemptNumber := len(st.attempts) + 1
	var strategy models.Strategy
	if attemptNumber == 1 {
		strategy = models.StrategyImmediateRetry
		if class == ClassQualityUnavailable {
			strategy = models.StrategyQualityFallback
		}
	} else {
		strategy = st.current().Strategy.Escalate()
	}

	if strategy == models.StrategyGiveUp {
		e.bus.PublishCorrelated(models.TopicRecoveryExhausted, st.correlationID,
			models.RecoveryExhausted{ItemID: itemID, Attempts: append([]models.RetryAttempt(nil), st.attempts...)})
		metrics.RecoveryExhausted.Inc()
		logging.Warn().
			Str("item_id", itemID).
			Int("attempts", len(st.attempts)).
			Msg("recovery exhausted, giving up")
		e.drop(itemID)
		return
	}

	delay := e.delayFor(attemptNumber)
	attempt := models.RetryAttempt{
		ItemID:        itemID,
		AttemptNumber: attemptNumber,
		Strategy:      strategy,
		ScheduledAt:   time.Now().UTC().Add(delay),
		Outcome:       models.OutcomePending,
	}

	e.mu.Lock()
	st.attempts = append(st.attempts, attempt)
	st.scheduled = true
	e.mu.Unlock()

	actx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	go e.executeAfter(actx, delay, attempt)

	logging.Info().
		Str("item_id", itemID).
		Int("attempt", attemptNumber).
		Str("strategy", string(strategy)).
		Dur("delay", delay).
		Msg("retry attempt scheduled")
}

// executeAfter waits out the backoff and invokes the gateway per the chosen
// strategy. Cancellation during the delay abandons the attempt without
// executing it.
func (e *Engine) executeAfter(ctx context.Context, delay time.Duration, attempt models.RetryAttempt) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	var err error
	switch attempt.Strategy {
	case models.StrategyImmediateRetry:
		err = e.gw.Retry(cctx, attempt.ItemID)
	default:
		err = e.gw.Search(cctx, attempt.ItemID)
	}

	select {
	case e.results <- attemptResult{itemID: attempt.ItemID, attemptNumber: attempt.AttemptNumber, err: err}:
	case <-ctx.Done():
	}
}

// handleResult records an executed attempt, publishes recovery.attempted,
// and feeds a failed execution back through the state machine.
func (e *Engine) handleResult(ctx context.Context, res attemptResult) {
	st := e.state(res.itemID)
	if st == nil || st.current() == nil || st.current().AttemptNumber != res.attemptNumber {
		return // stale result from a superseded cycle
	}

	// The attempt already executed; release its context so it does not stay
	// pinned to the run context for the life of the process.
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}

	e.mu.Lock()
	st.scheduled = false
	attempt := st.current()
	result := "ok"
	errMsg := ""
	if res.err != nil {
		attempt.Outcome = models.OutcomeFailedAgain
		result = "error"
		errMsg = res.err.Error()
	}
	published := *attempt
	e.mu.Unlock()

	metrics.RetryAttempts.WithLabelValues(string(published.Strategy), result).Inc()
	e.bus.PublishCorrelated(models.TopicRecoveryAttempted, st.correlationID,
		models.RecoveryAttempted{Attempt: published, Error: errMsg})

	if res.err != nil {
		// A failed retry execution is evaluated exactly like an original
		// failure for escalation purposes.
		e.advance(ctx, res.itemID, st, ClassifyError(res.err), res.err.Error())
	}
	// On success the outcome stays pending until the monitor observes the
	// item complete (or fail again).
}

// onCompleted moves a retrying item to Succeeded and resets it to Idle.
func (e *Engine) onCompleted(itemID string) {
	st := e.state(itemID)
	if st == nil {
		return
	}
	if st.cancel != nil {
		st.cancel()
	}

	e.mu.Lock()
	if cur := st.current(); cur != nil {
		cur.Outcome = models.OutcomeSucceeded
	}
	attempts := append([]models.RetryAttempt(nil), st.attempts...)
	e.mu.Unlock()

	e.bus.PublishCorrelated(models.TopicRecoverySucceeded, st.correlationID,
		models.RecoverySucceeded{ItemID: itemID, Attempts: attempts})
	logging.Info().
		Str("item_id", itemID).
		Int("attempts", len(attempts)).
		Msg("item recovered")
	e.drop(itemID)
}

// onRemoved abandons recovery for an externally removed item.
func (e *Engine) onRemoved(itemID string) {
	if st := e.state(itemID); st != nil {
		logging.Info().Str("item_id", itemID).Msg("item removed externally, abandoning recovery")
		e.drop(itemID)
	}
}

func (e *Engine) state(itemID string) *itemState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.states[itemID]
}

func (e *Engine) putState(itemID string, st *itemState) {
	e.mu.Lock()
	e.states[itemID] = st
	e.mu.Unlock()
}

func (e *Engine) drop(itemID string) {
	e.mu.Lock()
	st := e.states[itemID]
	delete(e.states, itemID)
	e.mu.Unlock()
	if st != nil && st.cancel != nil {
		st.cancel()
	}
}

// delayFor computes base * multiplier^(n-1), capped at MaxDelay.
func (e *Engine) delayFor(attemptNumber int) time.Duration {
	d := time.Duration(float64(e.cfg.BaseDelay) * math.Pow(e.cfg.Multiplier, float64(attemptNumber-1)))
	if d > e.cfg.MaxDelay || d <= 0 {
		d = e.cfg.MaxDelay
	}
	return d
}

// Snapshot returns the recovery state of every tracked item sorted by item
// ID, for the HTTP API.
func (e *Engine) Snapshot() []ItemStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]ItemStatus, 0, len(e.states))
	for id, st := range e.states {
		out = append(out, ItemStatus{
			ItemID:        id,
			CorrelationID: st.correlationID,
			Attempts:      append([]models.RetryAttempt(nil), st.attempts...),
			Scheduled:     st.scheduled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}
