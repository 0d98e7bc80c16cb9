// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/reclaimarr/reclaimarr/internal/bus"
	"github.com/reclaimarr/reclaimarr/internal/logging"
	"github.com/reclaimarr/reclaimarr/internal/metrics"
)

const (
	topicEvents = "audit.events"
	topicPoison = "audit.poison"
)

// PipelineConfig holds audit pipeline tuning.
type PipelineConfig struct {
	// ChannelBuffer is the in-flight buffer between the bus tap and the
	// appender. Default: 256.
	ChannelBuffer int64

	// RetryMaxRetries bounds append retries before an event is routed to
	// the poison topic. Default: 3.
	RetryMaxRetries int

	// RetryInitialInterval is the first retry backoff. Default: 100ms.
	RetryInitialInterval time.Duration
}

func (c *PipelineConfig) applyDefaults() {
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 256
	}
	if c.RetryMaxRetries <= 0 {
		c.RetryMaxRetries = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
}

// Pipeline taps the bus and drives every published event through a Watermill
// router into the store. Append failures are retried with backoff; events
// that exhaust their retries land on a poison topic and are counted, never
// lost silently into a crash loop.
type Pipeline struct {
	bus    *bus.Bus
	store  *Store
	cfg    PipelineConfig
	pubsub *gochannel.GoChannel
	router *message.Router
}

// NewPipeline builds the router and middleware chain around the store.
func NewPipeline(b *bus.Bus, store *Store, cfg PipelineConfig) (*Pipeline, error) {
	cfg.applyDefaults()
	logger := watermillLogger{}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.ChannelBuffer,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("create audit router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		Multiplier:      2,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	poison, err := middleware.PoisonQueue(pubsub, topicPoison)
	if err != nil {
		return nil, fmt.Errorf("create audit poison queue: %w", err)
	}
	router.AddMiddleware(poison)

	router.AddNoPublisherHandler("audit-appender", topicEvents, pubsub,
		func(msg *message.Message) error {
			return store.Append(msg.Payload)
		})

	router.AddNoPublisherHandler("audit-poison", topicPoison, pubsub,
		func(msg *message.Message) error {
			metrics.AuditErrors.Inc()
			logging.Error().
				Str("message_id", msg.UUID).
				Msg("audit entry dropped after exhausting retries")
			return nil
		})

	return &Pipeline{bus: b, store: store, cfg: cfg, pubsub: pubsub, router: router}, nil
}

// Run taps the bus and processes events until the context is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- p.router.Run(ctx) }()

	// The gochannel transport drops messages published before a subscriber
	// exists; tap the bus only once the router is consuming.
	select {
	case <-p.router.Running():
	case err := <-errCh:
		return err
	}

	sub := p.bus.Subscribe("*", func(ev bus.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			metrics.AuditErrors.Inc()
			logging.Error().Str("topic", ev.Topic).Err(err).Msg("audit serialization failed")
			return
		}
		msg := message.NewMessage(watermill.NewUUID(), data)
		if err := p.pubsub.Publish(topicEvents, msg); err != nil {
			metrics.AuditErrors.Inc()
			logging.Error().Str("topic", ev.Topic).Err(err).Msg("audit publish failed")
		}
	})
	defer p.bus.Unsubscribe(sub)

	logging.Info().Msg("audit pipeline started")
	err := <-errCh
	logging.Info().Msg("audit pipeline stopped")
	if err != nil {
		return err
	}
	return ctx.Err()
}

// watermillLogger adapts Watermill's logging onto the zerolog facade at
// debug level; router internals are noise at info.
type watermillLogger struct {
	fields watermill.LogFields
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]any(l.merged(fields))).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(l.merged(fields))).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(l.merged(fields))).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]any(l.merged(fields))).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{fields: l.merged(fields)}
}

func (l watermillLogger) merged(fields watermill.LogFields) watermill.LogFields {
	if len(l.fields) == 0 {
		return fields
	}
	return l.fields.Add(fields)
}
