// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package models

// Bus topics. Topics are hierarchical strings; subscribers may use a trailing
// wildcard ("download.*") to match a whole family. String topics exist only at
// the bus boundary; handlers dispatch on the typed payloads below.
const (
	TopicDownloadStarted   = "download.started"
	TopicDownloadFailed    = "download.failed"
	TopicDownloadCompleted = "download.completed"
	TopicDownloadRemoved   = "download.removed"

	TopicRecoveryAttempted        = "recovery.attempted"
	TopicRecoverySucceeded        = "recovery.succeeded"
	TopicRecoveryExhausted        = "recovery.exhausted"
	TopicRecoveryPermanentFailure = "recovery.permanent_failure"

	TopicMonitoringDegraded  = "monitoring.degraded"
	TopicMonitoringRecovered = "monitoring.recovered"
)

// DownloadStarted is published when a new item appears in the queue in an
// active or queued state.
type DownloadStarted struct {
	Item QueueItem `json:"item"`
}

// DownloadFailed is published when an item transitions to the failed state.
// The carrying event's correlation ID is fresh and ties together the whole
// recovery chain that follows.
type DownloadFailed struct {
	Item  QueueItem `json:"item"`
	Error string    `json:"error,omitempty"`
}

// DownloadCompleted is published when an item transitions to completed,
// either directly in the queue or via the history when the queue omits it.
type DownloadCompleted struct {
	Item QueueItem `json:"item"`
}

// DownloadRemoved is published when an item has been absent from both queue
// and history for two consecutive polls: externally removed, not an error.
type DownloadRemoved struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title,omitempty"`
}

// RecoveryAttempted is published for every executed retry attempt.
type RecoveryAttempted struct {
	Attempt RetryAttempt `json:"attempt"`
	Error   string       `json:"error,omitempty"`
}

// RecoverySucceeded is published when an item completes while under recovery.
type RecoverySucceeded struct {
	ItemID   string         `json:"item_id"`
	Attempts []RetryAttempt `json:"attempts"`
}

// RecoveryExhausted is published once when the strategy ladder reaches
// give-up. It carries the accumulated attempt history so the UI layer can
// present a single actionable notification instead of a stream of errors.
type RecoveryExhausted struct {
	ItemID   string         `json:"item_id"`
	Attempts []RetryAttempt `json:"attempts"`
}

// RecoveryPermanentFailure is published when classification short-circuits
// recovery without consuming any retry budget.
type RecoveryPermanentFailure struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error,omitempty"`
}

// MonitoringDegraded is published after repeated consecutive gateway failures
// at the polling level. The loop keeps running; this is a confidence signal,
// not a terminal condition.
type MonitoringDegraded struct {
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

// MonitoringRecovered is published on the first successful poll after a
// degraded period.
type MonitoringRecovered struct {
	DegradedFor string `json:"degraded_for,omitempty"`
}
