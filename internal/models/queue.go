// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

// Package models defines the shared domain types: queue items observed at the
// download client, retry attempts owned by the recovery engine, and the typed
// event payloads carried on the bus.
package models

// Status is the lifecycle state of a tracked queue item.
type Status string

const (
	// StatusQueued indicates the item is waiting to be processed.
	StatusQueued Status = "queued"
	// StatusActive indicates the item is downloading.
	StatusActive Status = "active"
	// StatusPaused indicates the item is paused by the client or user.
	StatusPaused Status = "paused"
	// StatusCompleted indicates the item finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the item failed at the download client.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status is a terminal state.
// Terminal transitions are published at most once per item; re-observing the
// same terminal status on a later poll must not produce a duplicate event.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusActive, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// QueueItem is one tracked unit of work: a download or library search job as
// reported by the download client. The ID is opaque and stable across polls.
type QueueItem struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Status          Status  `json:"status"`
	ProgressPercent float64 `json:"progress_percent"`
	SizeBytes       int64   `json:"size_bytes"`
	Category        string  `json:"category,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
}
