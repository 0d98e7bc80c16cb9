// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/reclaimarr/reclaimarr/internal/gateway"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		message string
		want    Classification
	}{
		{"authentication failed for indexer", ClassPermanent},
		{"401 Unauthorized", ClassPermanent},
		{"invalid API key", ClassPermanent},
		{"download quota exceeded", ClassPermanent},
		{"account banned by tracker", ClassPermanent},
		{"no matching release found", ClassQualityUnavailable},
		{"No results from any indexer", ClassQualityUnavailable},
		{"quality cutoff unmet", ClassQualityUnavailable},
		{"connection timeout", ClassTransient},
		{"connection refused", ClassTransient},
		{"temporary failure in name resolution", ClassTransient},
		{"", ClassTransient},
		{"something entirely novel", ClassTransient}, // unknown defaults to retryable
	}
	for _, tt := range tests {
		if got := ClassifyMessage(tt.message); got != tt.want {
			t.Errorf("ClassifyMessage(%q) = %s, want %s", tt.message, got, tt.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"wrapped deadline", fmt.Errorf("retry item: %w", context.DeadlineExceeded), ClassTransient},
		{"breaker open", gateway.ErrUnavailable, ClassTransient},
		{"status 401", &gateway.StatusError{Operation: "retry", Code: 401}, ClassPermanent},
		{"status 403", &gateway.StatusError{Operation: "retry", Code: 403}, ClassPermanent},
		{"status 404", &gateway.StatusError{Operation: "search", Code: 404}, ClassQualityUnavailable},
		{"status 429", &gateway.StatusError{Operation: "retry", Code: 429}, ClassTransient},
		{"status 503", &gateway.StatusError{Operation: "retry", Code: 503}, ClassTransient},
		{"plain network error", errors.New("dial tcp: connection refused"), ClassTransient},
		{"plain auth error", errors.New("forbidden"), ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
