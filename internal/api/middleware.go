// Reclaimarr - Media Acquisition Monitoring and Recovery
// Copyright 2026 The Reclaimarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reclaimarr/reclaimarr

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/reclaimarr/reclaimarr/internal/logging"
)

// requestLogger logs one line per request at debug level, errors at warn.
// Metrics and websocket endpoints are high-frequency and skipped.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		ev := logging.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			ev = logging.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}
