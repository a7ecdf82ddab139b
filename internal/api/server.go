// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of the daemon: the /ws duplex gateway,
// the operator status and metrics endpoints, the Prometheus exposition and
// the static web client. Route handlers hold no state of their own; every
// shared component is injected through Options.
package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/api/middleware"
	"github.com/clipmux/clipmux/internal/chat"
	"github.com/clipmux/clipmux/internal/config"
	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/log"
	"github.com/clipmux/clipmux/internal/metrics"
	"github.com/clipmux/clipmux/internal/pool"
	"github.com/clipmux/clipmux/internal/session"
	"github.com/clipmux/clipmux/internal/videogen"
)

// Options carries every dependency the HTTP surface needs. All fields
// except History and Logger are required.
type Options struct {
	Settings config.Settings
	Resolver *identity.Resolver
	Tracker  *metrics.Tracker
	Sessions *session.Registry
	Chat     *chat.Registry
	Studio   session.Studio
	Video    session.Renderer
	Pool     *pool.Pool
	// History feeds the per-video event trails into /api/metrics.
	History *videogen.History
	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// Server wires the injected components into an http.Handler.
type Server struct {
	cfg      config.Settings
	resolver *identity.Resolver
	tracker  *metrics.Tracker
	sessions *session.Registry
	chat     *chat.Registry
	studio   session.Studio
	video    session.Renderer
	pool     *pool.Pool
	history  *videogen.History
	logger   zerolog.Logger

	proxies  []*net.IPNet
	upgrader websocket.Upgrader
}

// New builds a Server. It fails only on unparseable trusted-proxy CIDRs;
// everything else is assumed validated by config.Settings.Validate.
func New(opts Options) (*Server, error) {
	logger := log.WithComponent("api")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	proxies, err := config.CompileTrustedProxies(opts.Settings.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("compile trusted proxies: %w", err)
	}
	return &Server{
		cfg:      opts.Settings,
		resolver: opts.Resolver,
		tracker:  opts.Tracker,
		sessions: opts.Sessions,
		chat:     opts.Chat,
		studio:   opts.Studio,
		video:    opts.Video,
		pool:     opts.Pool,
		history:  opts.History,
		logger:   logger,
		proxies:  proxies,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect cross-origin during development; the
			// token in the handshake is the actual credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Handler assembles the router: middleware stack, websocket gateway,
// operator endpoints, Prometheus exposition and the static web client.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		RateLimit: 600,
	})

	r.Get("/ws", s.handleSocket)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/metrics", s.handleDetailedMetrics)
	r.Handle("/metrics", promhttp.Handler())

	if s.cfg.StaticDir != "" {
		r.Get("/*", s.staticHandler())
	}
	return r
}

// clientIP resolves the originating address. Forwarded headers are honored
// only when the direct peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.remoteIsTrusted(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
				return first
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) remoteIsTrusted(remote string) bool {
	if len(s.proxies) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range s.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
