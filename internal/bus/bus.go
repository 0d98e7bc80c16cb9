// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package bus implements the in-process publish/subscribe hub that decouples
// the monitor, recovery engine, notification bridge, and audit pipeline.
//
// Topics are hierarchical strings ("download.failed"); subscribers may use a
// trailing wildcard ("download.*", or "*" for everything). Delivery is
// asynchronous: each subscription owns a bounded queue drained by a dedicated
// goroutine, so Publish never blocks on subscriber processing. Events on the
// same topic reach each matching subscriber in sequence order; events on
// different topics carry no relative ordering guarantee.
//
// Backpressure policy: a subscriber whose queue backlog exceeds the configured
// bound is revoked (disconnected) rather than allowed to grow memory without
// bound. A handler panic is recovered, counted, and republished on the
// reserved TopicError topic; it never affects other subscribers.
package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
)

// TopicError is the reserved topic for bus-internal errors (handler panics).
// Subscribers must not publish to it.
const TopicError = "bus.error"

// DefaultBacklog is the per-subscription queue bound used when Config leaves
// it zero.
const DefaultBacklog = 256

// Event is the immutable unit carried by the bus. Sequence is a monotonic
// per-topic counter assigned at publish time; CorrelationID ties together a
// causal chain (failure, retries, outcome).
type Event struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	Payload       any       `json:"payload"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Sequence      uint64    `json:"sequence"`
}

// HandlerError is the payload published on TopicError when a subscriber
// handler panics.
type HandlerError struct {
	Pattern  string `json:"pattern"`
	ClientID string `json:"client_id,omitempty"`
	Topic    string `json:"topic"`
	Reason   string `json:"reason"`
}

// Handler consumes a single event. Handlers run on the subscription's own
// delivery goroutine; a slow handler delays only its own subscription.
type Handler func(Event)

// Subscription is a live (pattern, handler) registration. Obtain one from
// Subscribe and pass it back to Unsubscribe to stop delivery.
type Subscription struct {
	pattern  string
	clientID string
	handler  Handler
	queue    chan Event
	done     chan struct{}
	once     sync.Once
}

// Pattern returns the topic pattern this subscription was registered with.
func (s *Subscription) Pattern() string { return s.pattern }

// ClientID returns the optional connection tag, empty for internal consumers.
func (s *Subscription) ClientID() string { return s.clientID }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Config holds bus tuning parameters.
type Config struct {
	// Backlog is the per-subscription queue bound. A subscription whose
	// backlog is exceeded is revoked. Default: DefaultBacklog.
	Backlog int
}

// Bus is the publish/subscribe hub. The zero value is not usable; use New.
type Bus struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	topicSeq map[string]uint64
	backlog  int
	closed   bool
	wg       sync.WaitGroup
}

// New creates a bus with the given configuration.
func New(cfg Config) *Bus {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	return &Bus{
		subs:     make(map[*Subscription]struct{}),
		topicSeq: make(map[string]uint64),
		backlog:  cfg.Backlog,
	}
}

// Publish constructs an event with a fresh per-topic sequence number and a
// generated correlation ID, and enqueues it for every matching subscription.
// It returns the constructed event immediately; delivery is asynchronous.
func (b *Bus) Publish(topic string, payload any) Event {
	return b.PublishCorrelated(topic, uuid.NewString(), payload)
}

// PublishCorrelated is Publish with a caller-supplied correlation ID, used
// when the event is causally descended from an earlier one.
func (b *Bus) PublishCorrelated(topic, correlationID string, payload any) Event {
	b.mu.Lock()
	b.topicSeq[topic]++
	ev := Event{
		ID:            uuid.NewString(),
		Topic:         topic,
		Payload:       payload,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Sequence:      b.topicSeq[topic],
	}
	if b.closed {
		b.mu.Unlock()
		return ev
	}
	for sub := range b.subs {
		if !MatchTopic(sub.pattern, topic) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			// Backlog bound exceeded: disconnect the subscriber rather
			// than grow memory unboundedly.
			b.revokeLocked(sub)
			logging.Warn().
				Str("pattern", sub.pattern).
				Str("client_id", sub.clientID).
				Str("topic", topic).
				Msg("subscription revoked: backlog bound exceeded")
		}
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(topic).Inc()
	return ev
}

// Subscribe registers a handler for every topic matching pattern and starts
// its delivery goroutine. The returned handle is passed to Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler) *Subscription {
	return b.SubscribeAs("", pattern, handler)
}

// SubscribeAs is Subscribe with a client tag for connection-scoped
// subscriptions (used by the notification bridge).
func (b *Bus) SubscribeAs(clientID, pattern string, handler Handler) *Subscription {
	sub := &Subscription{
		pattern:  pattern,
		clientID: clientID,
		handler:  handler,
		queue:    make(chan Event, b.backlog),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	b.wg.Add(1)
	go b.deliver(sub)
	return sub
}

// Unsubscribe removes the subscription. It is idempotent. After it returns,
// the handler is not invoked for any event not already handed to it,
// including events sitting in its queue at the time of removal.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	_, live := b.subs[sub]
	if live {
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	sub.close()
	if live {
		metrics.ActiveSubscriptions.Dec()
	}
}

// Close revokes every subscription and waits for delivery goroutines to
// drain. Publish on a closed bus still assigns sequence numbers but delivers
// to nobody.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		metrics.ActiveSubscriptions.Dec()
	}
	b.wg.Wait()
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// revokeLocked removes a subscription under the bus lock (backpressure path).
func (b *Bus) revokeLocked(sub *Subscription) {
	delete(b.subs, sub)
	sub.close()
	metrics.SubscribersRevoked.Inc()
	metrics.ActiveSubscriptions.Dec()
}

// deliver drains the subscription queue until the subscription is closed.
// The done check before each invocation is the race-free cutoff: an
// unsubscribed handler never sees events that were still queued.
func (b *Bus) deliver(sub *Subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			select {
			case <-sub.done:
				return
			default:
			}
			b.invoke(sub, ev)
		}
	}
}

// invoke runs the handler with panic isolation. A panic is contained,
// counted, and republished on TopicError so other subscribers and future
// events are unaffected.
func (b *Bus) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			logging.Error().
				Str("pattern", sub.pattern).
				Str("client_id", sub.clientID).
				Str("topic", ev.Topic).
				Str("reason", fmt.Sprint(r)).
				Msg("subscriber handler panicked")
			if ev.Topic != TopicError {
				b.PublishCorrelated(TopicError, ev.CorrelationID, HandlerError{
					Pattern:  sub.pattern,
					ClientID: sub.clientID,
					Topic:    ev.Topic,
					Reason:   fmt.Sprint(r),
				})
			}
		}
	}()
	sub.handler(ev)
	metrics.EventsDelivered.WithLabelValues(ev.Topic).Inc()
}

// MatchTopic reports whether a topic matches a subscription pattern.
// "*" matches everything; a trailing ".*" matches the whole topic family
// ("download.*" matches "download.failed"); anything else is an exact match.
func MatchTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if n := len(pattern); n >= 2 && pattern[n-1] == '*' && pattern[n-2] == '.' {
		prefix := pattern[:n-1]
		return len(topic) > len(prefix) && topic[:len(prefix)] == prefix
	}
	return pattern == topic
}
