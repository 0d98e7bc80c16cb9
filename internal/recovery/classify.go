// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package recovery

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/reclaimarr/reclaimarr/internal/gateway"
)

// Classification buckets a failure for retry-policy purposes.
type Classification int

const (
	// ClassTransient covers network timeouts and temporary unavailability.
	// Always retry-eligible. Unclassifiable errors land here: retrying an
	// unknown failure is recoverable, wrongly giving up is not.
	ClassTransient Classification = iota
	// ClassQualityUnavailable means no matching release was found; the
	// engine skips straight to the quality-fallback strategy.
	ClassQualityUnavailable
	// ClassPermanent covers authentication, quota, and explicit bans.
	// Short-circuits to give-up without consuming retry budget.
	ClassPermanent
)

// String returns the classification name for logs and payloads.
func (c Classification) String() string {
	switch c {
	case ClassQualityUnavailable:
		return "quality_unavailable"
	case ClassPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// ClassifyMessage buckets a failure by its error string, as reported by the
// download client in a queue item's last error.
func ClassifyMessage(message string) Classification {
	m := strings.ToLower(message)
	switch {
	case containsAny(m, "auth", "unauthorized", "forbidden", "api key", "apikey",
		"quota", "banned", "ban ", "account", "permission denied"):
		return ClassPermanent
	case containsAny(m, "no matching release", "no release", "no results",
		"not found on any indexer", "quality", "cutoff unmet"):
		return ClassQualityUnavailable
	default:
		return ClassTransient
	}
}

// ClassifyError buckets an error returned by a gateway call (a failed retry
// execution). Timeouts are Transient per the concurrency model; gateway
// unavailability is likewise retried rather than abandoned.
func ClassifyError(err error) Classification {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, gateway.ErrUnavailable):
		return ClassTransient
	}

	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusGone:
			return ClassPermanent
		case http.StatusNotFound:
			return ClassQualityUnavailable
		}
		if statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests {
			return ClassTransient
		}
	}

	return ClassifyMessage(err.Error())
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
