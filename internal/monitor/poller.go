// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package monitor implements the polling loop that observes the download
// client and translates raw queue/history snapshots into domain events.
//
// The poller is the sole authority on external state: it diffs each snapshot
// against the previous one and publishes download.started, download.failed,
// download.completed, and download.removed onto the bus. It retains the
// last-known status per item specifically to suppress duplicate terminal
// transitions from stale gateway reads.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reclaimarr/reclaimarr/internal/bus"
	"github.com/reclaimarr/reclaimarr/internal/gateway"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
	"github.com/reclaimarr/reclaimarr/internal/models"
)

// Config holds poller tuning parameters.
type Config struct {
	// Interval between polls. Default: 15s.
	Interval time.Duration

	// CallTimeout bounds each gateway call. Default: 10s.
	CallTimeout time.Duration

	// DegradedThreshold is the number of consecutive failed polls before
	// monitoring.degraded is published. Default: 3.
	DegradedThreshold int

	// RemovalGracePolls is how many consecutive polls an item may be absent
	// from both queue and history before it is treated as externally
	// removed. Default: 2.
	RemovalGracePolls int

	// BackoffInitial is the first retry delay after a failed poll.
	// Default: 1s.
	BackoffInitial time.Duration

	// BackoffMax caps the poll retry delay. Default: 2m.
	BackoffMax time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 3
	}
	if c.RemovalGracePolls <= 0 {
		c.RemovalGracePolls = 2
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Minute
	}
}

// Poller polls the gateway on a fixed interval and publishes state
// transitions as domain events. All snapshot state is owned by the poll
// goroutine; the mutex exists only for read access from the HTTP API.
type Poller struct {
	gw  gateway.Client
	bus *bus.Bus
	cfg Config

	mu        sync.RWMutex
	lastKnown map[string]models.QueueItem
	missing   map[string]int

	consecutiveFailures int
	degraded            bool
	degradedSince       time.Time
	loopBackoff         *backoff.ExponentialBackOff
}

// New creates a poller. Run must be called for it to do anything.
func New(gw gateway.Client, b *bus.Bus, cfg Config) *Poller {
	cfg.applyDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffInitial
	bo.MaxInterval = cfg.BackoffMax
	bo.MaxElapsedTime = 0 // the loop never gives up

	return &Poller{
		gw:          gw,
		bus:         b,
		cfg:         cfg,
		lastKnown:   make(map[string]models.QueueItem),
		missing:     make(map[string]int),
		loopBackoff: bo,
	}
}

// Run polls until the context is canceled. A failed poll shortens nothing
// and loses nothing: the loop backs off and keeps running, publishing
// monitoring.degraded after the configured threshold instead of terminating.
func (p *Poller) Run(ctx context.Context) error {
	logging.Info().
		Dur("interval", p.cfg.Interval).
		Msg("monitor poller started")

	timer := time.NewTimer(0) // immediate first poll
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("monitor poller stopped")
			return ctx.Err()
		case <-timer.C:
		}
		timer.Reset(p.pollOnce(ctx))
	}
}

// pollOnce performs one poll cycle and returns the delay before the next.
func (p *Poller) pollOnce(ctx context.Context) time.Duration {
	start := time.Now()

	qctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	queue, err := p.gw.ListQueue(qctx)
	cancel()
	if err != nil {
		return p.handleLoopFailure(err)
	}

	hctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	history, err := p.gw.ListHistory(hctx)
	cancel()
	if err != nil {
		return p.handleLoopFailure(err)
	}

	p.handleLoopSuccess()
	p.diff(queue, history)

	metrics.PollDuration.Observe(time.Since(start).Seconds())
	return p.cfg.Interval
}

// handleLoopFailure applies loop-level backoff, distinct from item-level
// recovery, and signals degraded mode after repeated consecutive failures.
func (p *Poller) handleLoopFailure(err error) time.Duration {
	metrics.PollErrors.Inc()
	p.consecutiveFailures++

	if p.consecutiveFailures >= p.cfg.DegradedThreshold && !p.isDegraded() {
		p.setDegraded(true)
		metrics.MonitorDegraded.Set(1)
		p.bus.Publish(models.TopicMonitoringDegraded, models.MonitoringDegraded{
			ConsecutiveFailures: p.consecutiveFailures,
			LastError:           err.Error(),
		})
		logging.Warn().
			Int("consecutive_failures", p.consecutiveFailures).
			Err(err).
			Msg("gateway considered degraded")
	}

	delay := p.loopBackoff.NextBackOff()
	logging.Warn().Err(err).Dur("retry_in", delay).Msg("poll failed")
	return delay
}

func (p *Poller) handleLoopSuccess() {
	if p.isDegraded() {
		p.bus.Publish(models.TopicMonitoringRecovered, models.MonitoringRecovered{
			DegradedFor: time.Since(p.degradedSince).Round(time.Second).String(),
		})
		metrics.MonitorDegraded.Set(0)
		p.setDegraded(false)
		logging.Info().Msg("gateway recovered from degraded mode")
	}
	p.consecutiveFailures = 0
	p.loopBackoff.Reset()
}

// isDegraded and setDegraded guard the flag shared with the HTTP API.
// consecutiveFailures and degradedSince are touched only by the poll
// goroutine and need no locking.
func (p *Poller) isDegraded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.degraded
}

func (p *Poller) setDegraded(degraded bool) {
	p.mu.Lock()
	p.degraded = degraded
	if degraded {
		p.degradedSince = time.Now()
	}
	p.mu.Unlock()
}

// diff compares the observed snapshot with the previous one and publishes
// transition events. Keyed by item ID; history is authoritative for terminal
// state when the queue omits an item.
func (p *Poller) diff(queue, history []models.QueueItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]struct{}, len(queue))

	for _, item := range queue {
		seen[item.ID] = struct{}{}
		delete(p.missing, item.ID)

		prev, known := p.lastKnown[item.ID]
		switch {
		case !known:
			p.publishForNewItem(item)
		case prev.Status != item.Status:
			p.publishForTransition(item)
		}
		p.lastKnown[item.ID] = item
	}

	for _, item := range history {
		if !item.Status.IsTerminal() {
			continue
		}
		if _, inQueue := seen[item.ID]; inQueue {
			continue
		}
		seen[item.ID] = struct{}{}
		delete(p.missing, item.ID)

		prev, known := p.lastKnown[item.ID]
		if !known || prev.Status.IsTerminal() {
			// Unknown items finishing in history are pre-existing backlog;
			// known terminal items are stale re-reads. Neither is an event.
			p.lastKnown[item.ID] = item
			continue
		}
		p.publishForTransition(item)
		p.lastKnown[item.ID] = item
	}

	for id, item := range p.lastKnown {
		if _, ok := seen[id]; ok {
			continue
		}
		p.missing[id]++
		if p.missing[id] < p.cfg.RemovalGracePolls {
			continue
		}
		// Absent from queue and history long enough: externally removed,
		// not an error.
		p.bus.Publish(models.TopicDownloadRemoved, models.DownloadRemoved{
			ItemID: id,
			Title:  item.Title,
		})
		delete(p.lastKnown, id)
		delete(p.missing, id)
	}
}

func (p *Poller) publishForNewItem(item models.QueueItem) {
	switch item.Status {
	case models.StatusActive, models.StatusQueued:
		p.bus.Publish(models.TopicDownloadStarted, models.DownloadStarted{Item: item})
	case models.StatusFailed:
		p.publishFailed(item)
	case models.StatusCompleted:
		p.bus.Publish(models.TopicDownloadCompleted, models.DownloadCompleted{Item: item})
	case models.StatusPaused:
		// Paused on first sight: tracked, no event until it transitions.
	}
}

func (p *Poller) publishForTransition(item models.QueueItem) {
	switch item.Status {
	case models.StatusFailed:
		p.publishFailed(item)
	case models.StatusCompleted:
		p.bus.Publish(models.TopicDownloadCompleted, models.DownloadCompleted{Item: item})
	case models.StatusActive, models.StatusQueued, models.StatusPaused:
		// Progress-only transitions carry no event.
	}
}

// publishFailed publishes download.failed with a fresh correlation ID; the
// recovery chain that follows carries this ID end to end.
func (p *Poller) publishFailed(item models.QueueItem) {
	ev := p.bus.Publish(models.TopicDownloadFailed, models.DownloadFailed{
		Item:  item,
		Error: item.LastError,
	})
	logging.Info().
		Str("item_id", item.ID).
		Str("correlation_id", ev.CorrelationID).
		Str("error", item.LastError).
		Msg("download failed")
}

// Snapshot returns the current tracked items sorted by ID, for the HTTP API.
func (p *Poller) Snapshot() []models.QueueItem {
	p.mu.RLock()
	defer p.mu.RUnlock()

	items := make([]models.QueueItem, 0, len(p.lastKnown))
	for _, item := range p.lastKnown {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Degraded reports whether the gateway is currently considered unreliable.
func (p *Poller) Degraded() bool {
	return p.isDegraded()
}
