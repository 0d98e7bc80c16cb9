// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package metrics provides Prometheus collectors for Reclaimarr observability.
//
// Collectors are registered with the default registry at package init and
// exposed at /metrics via promhttp. Naming follows Prometheus conventions:
// totals are counters with a _total suffix, states are gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts events published on the bus, by topic.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_published_total",
		Help: "Total events published on the in-process bus.",
	}, []string{"topic"})

	// EventsDelivered counts per-subscriber deliveries, by topic.
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_delivered_total",
		Help: "Total events delivered to subscriber handlers.",
	}, []string{"topic"})

	// SubscribersRevoked counts subscriptions revoked by the backpressure
	// policy (backlog bound exceeded).
	SubscribersRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_subscribers_revoked_total",
		Help: "Total subscriptions revoked due to backlog overflow.",
	})

	// HandlerPanics counts recovered subscriber handler panics.
	HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_handler_panics_total",
		Help: "Total subscriber handler panics recovered by the bus.",
	})

	// ActiveSubscriptions tracks the current number of live subscriptions.
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bus_subscriptions_active",
		Help: "Current number of live bus subscriptions.",
	})

	// PollDuration observes monitor poll cycle duration.
	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_poll_duration_seconds",
		Help:    "Duration of monitor poll cycles.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// PollErrors counts failed monitor poll cycles.
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_poll_errors_total",
		Help: "Total monitor poll cycles that failed at the gateway level.",
	})

	// MonitorDegraded reports degraded mode: 1 when the gateway is considered
	// unreliable, 0 otherwise.
	MonitorDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_degraded",
		Help: "Whether the monitor considers the gateway degraded (0 or 1).",
	})

	// RetryAttempts counts executed recovery attempts, by strategy and result.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_attempts_total",
		Help: "Total executed recovery attempts.",
	}, []string{"strategy", "result"})

	// RecoveryExhausted counts items whose strategy ladder reached give-up.
	RecoveryExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recovery_exhausted_total",
		Help: "Total items abandoned after exhausting all retry strategies.",
	})

	// GatewayCallDuration observes gateway call latency, by operation.
	GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Duration of download client gateway calls.",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	// GatewayCallErrors counts failed gateway calls, by operation.
	GatewayCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_call_errors_total",
		Help: "Total failed download client gateway calls.",
	}, []string{"operation"})

	// WebsocketConnections tracks currently connected notification clients.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Current number of connected websocket clients.",
	})

	// WebsocketMessagesSent counts messages pushed to websocket clients.
	WebsocketMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_sent_total",
		Help: "Total messages pushed to websocket clients.",
	})

	// AuditAppends counts events appended to the durable audit log.
	AuditAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_appends_total",
		Help: "Total events appended to the audit store.",
	})

	// AuditErrors counts audit pipeline append failures.
	AuditErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_errors_total",
		Help: "Total audit store append failures.",
	})
)
