// SPDX-License-Identifier: MIT

// Package middleware is the canonical HTTP ingress stack: recovery, request
// correlation, CORS, security headers, Prometheus metrics, request logging
// and IP rate limiting, applied in that order.
package middleware

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// StackConfig tunes the ingress stack. The zero value enables everything
// with defaults suitable for the bundled web client.
type StackConfig struct {
	// AllowedOrigins restricts CORS; empty admits the dev-server origins.
	AllowedOrigins []string
	// CSP overrides the default content security policy.
	CSP string
	// RateLimit is the per-IP request ceiling per window; 0 disables it.
	// The websocket admission limiter is separate and always on.
	RateLimit int
	// RateWindow defaults to one minute.
	RateWindow time.Duration
}

// NewRouter constructs a chi router with the full stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	Apply(r, cfg)
	return r
}

// Apply installs the stack on r. Order matters: the recoverer wraps
// everything, correlation happens before any logging, and the rate limiter
// runs last so refused requests still carry headers and a request id.
func Apply(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(SecurityHeaders(cfg.CSP))
	r.Use(Metrics())
	r.Use(Logging())
	if cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		r.Use(RateLimit(cfg.RateLimit, window))
	}
}
