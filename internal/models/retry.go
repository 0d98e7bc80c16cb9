// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package models

import "time"

// Strategy is the remediation approach chosen for a retry attempt. Strategies
// escalate in declaration order across successive failures of the same item.
type Strategy string

const (
	// StrategyImmediateRetry re-issues the original grab unchanged.
	StrategyImmediateRetry Strategy = "immediate_retry"
	// StrategyQualityFallback searches again accepting a lower quality profile.
	StrategyQualityFallback Strategy = "quality_fallback"
	// StrategyAlternateSource searches again preferring a different indexer.
	StrategyAlternateSource Strategy = "alternate_source"
	// StrategyGiveUp stops retrying; the item surfaces as exhausted.
	StrategyGiveUp Strategy = "give_up"
)

// Escalate returns the next strategy in the escalation order.
// Escalating past StrategyAlternateSource yields StrategyGiveUp; escalating
// StrategyGiveUp is a no-op.
func (s Strategy) Escalate() Strategy {
	switch s {
	case StrategyImmediateRetry:
		return StrategyQualityFallback
	case StrategyQualityFallback:
		return StrategyAlternateSource
	default:
		return StrategyGiveUp
	}
}

// Outcome is the result of one retry attempt.
type Outcome string

const (
	// OutcomePending means the attempt is scheduled or awaiting confirmation
	// from a later poll. An attempt abandoned by shutdown stays Pending.
	OutcomePending Outcome = "pending"
	// OutcomeSucceeded means the item completed while the attempt was live.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailedAgain means the item failed again after the attempt.
	OutcomeFailedAgain Outcome = "failed_again"
)

// RetryAttempt tracks one recovery try for a queue item. It is owned
// exclusively by the recovery engine; no other component mutates it.
type RetryAttempt struct {
	ItemID        string    `json:"item_id"`
	AttemptNumber int       `json:"attempt_number"`
	Strategy      Strategy  `json:"strategy"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	Outcome       Outcome   `json:"outcome"`
}
