// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/clipmux/clipmux/internal/log"
)

// Logging emits one structured line per completed request. Websocket
// upgrades log on disconnect, which makes their duration the connection
// lifetime; that is intentional.
func Logging() func(http.Handler) http.Handler {
	logger := log.WithComponent("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Info().
				Str(log.FieldEvent, "http.request").
				Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int("status", sw.status).
				Int("bytes", sw.bytes).
				Dur("duration", time.Since(start)).
				Str(log.FieldRequestID, log.RequestIDFromContext(r.Context())).
				Msg("request complete")
		})
	}
}
