// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/log"
	"github.com/clipmux/clipmux/internal/version"
)

// handleStatus serves the unauthenticated service summary: build identity,
// endpoint pool health, aggregate request metrics and live session stats.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	endpoints := s.pool.Snapshot()

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	active := 0
	for _, ep := range endpoints {
		if !ep.Busy && ep.ErrorUntil < now {
			active++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"product":             s.cfg.ProductName,
		"version":             version.Version,
		"maintenance_mode":    s.cfg.MaintenanceMode,
		"available_endpoints": s.pool.Size(),
		"endpoint_status":     endpoints,
		"active_endpoints":    active,
		"metrics":             s.tracker.Snapshot(),
		"sessions":            s.sessions.Stats(),
	})
}

// handleDetailedMetrics serves the per-user activity rows and video event
// trails. Operator only: the shared secret must arrive as a bearer token or
// ?key= parameter and is compared in constant time.
func (s *Server) handleDetailedMetrics(w http.ResponseWriter, r *http.Request) {
	got := identity.SecretFromRequest(r)
	if got == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": "Authentication required",
		})
		return
	}
	if !identity.AuthorizeSecret(got, s.cfg.SecretToken) {
		s.logger.Warn().
			Str(log.FieldClientIP, s.clientIP(r)).
			Str(log.FieldEvent, "api.metrics.denied").
			Msg("detailed metrics refused, invalid secret")
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": "Access denied",
		})
		return
	}

	payload := map[string]any{
		"metrics":  s.tracker.DetailedSnapshot(),
		"sessions": s.sessions.Stats(),
	}
	if s.history != nil {
		payload["video_events"] = s.history.Snapshot()
	}
	writeJSON(w, http.StatusOK, payload)
}

// writeJSON emits one JSON response. Encoding failures are logged, the
// status line is already on the wire by then.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().
			Err(err).
			Int("status", code).
			Str(log.FieldEvent, "api.encode.failed").
			Msg("response encoding failed")
	}
}
