// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/log"
)

var sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "clipmux",
	Name:      "sessions_active",
	Help:      "Connected duplex sessions",
})

// RequestCounts aggregates served requests by queue class.
type RequestCounts struct {
	Chat       int64 `json:"chat"`
	Video      int64 `json:"video"`
	Search     int64 `json:"search"`
	Simulation int64 `json:"simulation"`
}

// Stats summarises the live sessions for the status endpoint. Every role
// key is always present so consumers never need existence checks.
type Stats struct {
	TotalSessions int            `json:"total_sessions"`
	ByRole        map[string]int `json:"by_role"`
	Requests      RequestCounts  `json:"requests"`
}

// Registry tracks the live sessions keyed by user id.
type Registry struct {
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:   log.WithComponent("session"),
		sessions: make(map[string]*Session),
	}
}

// Add registers a started session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.UserID()] = s
	sessionsActive.Set(float64(len(r.sessions)))
}

// Remove forgets the session for userID; stopping it is the caller's job.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[userID]; !ok {
		return
	}
	delete(r.sessions, userID)
	sessionsActive.Set(float64(len(r.sessions)))
}

// Get returns the live session for userID, or nil.
func (r *Registry) Get(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID]
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Stats aggregates the live sessions' roles and served-request counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalSessions: len(r.sessions),
		ByRole: map[string]int{
			string(identity.RoleAnonymous): 0,
			string(identity.RoleNormal):    0,
			string(identity.RolePro):       0,
			string(identity.RoleAdmin):     0,
		},
	}
	for _, s := range r.sessions {
		stats.ByRole[string(s.Role())]++
		c := s.requestCounts()
		stats.Requests.Chat += c.Chat
		stats.Requests.Video += c.Video
		stats.Requests.Search += c.Search
		stats.Requests.Simulation += c.Simulation
	}
	return stats
}

// CloseAll drains every session within ctx; used at shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	sessionsActive.Set(0)
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Stop(ctx); err != nil {
			r.logger.Warn().
				Err(err).
				Str(log.FieldUserID, s.UserID()).
				Str(log.FieldEvent, "session.drain.aborted").
				Msg("session drain aborted at shutdown")
		}
	}
}
