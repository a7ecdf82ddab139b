// SPDX-License-Identifier: MIT

// Package metrics aggregates per-user usage counters and enforces the
// per-minute admission limits. One Tracker instance is shared by every
// session; it is authoritative only within this process.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/identity"
	"github.com/clipmux/clipmux/internal/log"
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "frames_total",
		Help:      "Inbound frames recorded, by class and role",
	}, []string{"class", "role"})
	rateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "rate_limit_denials_total",
		Help:      "Frames refused by the per-minute limiter",
	}, []string{"class", "role"})
)

// Class is the admission class of an inbound frame.
type Class string

const (
	ClassChat       Class = "chat"
	ClassVideo      Class = "video"
	ClassSearch     Class = "search"
	ClassSimulation Class = "simulation"
	ClassOther      Class = "other"
)

// counterBucket collapses classes without a dedicated counter into "other",
// mirroring how totals were always reported.
func (c Class) counterBucket() Class {
	switch c {
	case ClassChat, ClassVideo, ClassSearch:
		return c
	default:
		return ClassOther
	}
}

// perMinuteLimits is indexed by role, then class. Classes missing from a row
// (simulation) fall back to the anonymous "other" limit for every role.
var perMinuteLimits = map[identity.Role]map[Class]float64{
	identity.RoleAnonymous: {
		ClassChat:   90,
		ClassVideo:  30,
		ClassSearch: 45,
		ClassOther:  45,
	},
	identity.RoleNormal: {
		ClassChat:   180,
		ClassVideo:  60,
		ClassSearch: 90,
		ClassOther:  90,
	},
	identity.RolePro: {
		ClassChat:   300,
		ClassVideo:  120,
		ClassSearch: 180,
		ClassOther:  180,
	},
	identity.RoleAdmin: {
		ClassChat:   450,
		ClassVideo:  240,
		ClassSearch: 360,
		ClassOther:  360,
	},
}

// limitFor resolves the admission ceiling for one (role, class) pair.
func limitFor(role identity.Role, class Class) float64 {
	row, ok := perMinuteLimits[role]
	if !ok {
		row = perMinuteLimits[identity.RoleAnonymous]
	}
	if limit, ok := row[class]; ok {
		return limit
	}
	return perMinuteLimits[identity.RoleAnonymous][ClassOther]
}

const (
	// bucketRetention is how many minutes of per-user history survive a purge.
	bucketRetention = 10
	// activeWindow bounds the "active users" roll-up in snapshots.
	activeWindow = 5 * time.Minute
	// detailCutoff drops users from the detailed payload once idle this long.
	detailCutoff = time.Hour
)

type userRecord struct {
	requests   map[Class]int64
	firstSeen  time.Time
	lastActive time.Time
	role       identity.Role
}

// Options tunes a Tracker. The zero value is production-ready.
type Options struct {
	// Clock overrides time.Now, used by tests.
	Clock func() time.Time
	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// Tracker owns every admission counter behind a single mutex: lifetime
// totals, per-user records, per-user minute buckets and the IP session map.
type Tracker struct {
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	totals     map[Class]int64
	users      map[string]*userRecord
	buckets    map[string]map[int64]map[Class]int
	ipSessions map[string]map[string]struct{}
	startedAt  time.Time
}

// NewTracker builds an empty Tracker.
func NewTracker(opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := log.WithComponent("metrics")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Tracker{
		logger: logger,
		now:    opts.Clock,
		totals: map[Class]int64{
			ClassChat:   0,
			ClassVideo:  0,
			ClassSearch: 0,
			ClassOther:  0,
		},
		users:      make(map[string]*userRecord),
		buckets:    make(map[string]map[int64]map[Class]int),
		ipSessions: make(map[string]map[string]struct{}),
		startedAt:  opts.Clock(),
	}
}

// RecordRequest counts one inbound frame: lifetime total, per-user counter,
// activity stamp and the minute bucket the limiter reads. Buckets older than
// ten minutes are purged for the touched user.
func (t *Tracker) RecordRequest(userID, ip string, class Class, role identity.Role) {
	now := t.now()
	minute := now.Unix() / 60

	t.mu.Lock()
	t.totals[class.counterBucket()]++

	user, ok := t.users[userID]
	if !ok {
		user = &userRecord{
			requests: map[Class]int64{
				ClassChat:   0,
				ClassVideo:  0,
				ClassSearch: 0,
				ClassOther:  0,
			},
			firstSeen: now,
		}
		t.users[userID] = user
	}
	user.lastActive = now
	user.role = role
	user.requests[class.counterBucket()]++

	minutes, ok := t.buckets[userID]
	if !ok {
		minutes = make(map[int64]map[Class]int)
		t.buckets[userID] = minutes
	}
	counts, ok := minutes[minute]
	if !ok {
		counts = make(map[Class]int)
		minutes[minute] = counts
	}
	counts[class]++

	cutoff := minute - bucketRetention
	for m := range minutes {
		if m < cutoff {
			delete(minutes, m)
		}
	}
	t.mu.Unlock()

	framesTotal.WithLabelValues(string(class), string(role)).Inc()

	t.logger.Debug().
		Str(log.FieldUserID, userID).
		Str(log.FieldClientIP, ip).
		Str(log.FieldClass, string(class)).
		Str(log.FieldRole, string(role)).
		Str(log.FieldEvent, "metrics.request.recorded").
		Msg("request recorded")
}

// Blend weights for the two minute buckets the limiter reads. The
// threshold is scaled by the current-minute weight so a quiet minute
// admits exactly the configured limit before the next frame is refused;
// carryover from the previous minute eats into that budget at 0.3 weight.
const (
	currentMinuteWeight  = 0.7
	previousMinuteWeight = 0.3
)

// IsRateLimited reports whether the user has exhausted their per-minute
// budget for the class. Callers record the frame first, then ask; the
// frame that pushes the blended rate past the budget is the one refused.
// Admins are never limited.
func (t *Tracker) IsRateLimited(userID string, class Class, role identity.Role) bool {
	if role == identity.RoleAdmin {
		return false
	}

	now := t.now()
	minute := now.Unix() / 60

	t.mu.Lock()
	var current, previous int
	if minutes, ok := t.buckets[userID]; ok {
		current = minutes[minute][class]
		previous = minutes[minute-1][class]
	}
	t.mu.Unlock()

	rate := float64(current)*currentMinuteWeight + float64(previous)*previousMinuteWeight
	limited := rate > limitFor(role, class)*currentMinuteWeight
	if limited {
		rateLimitDenials.WithLabelValues(string(class), string(role)).Inc()
	}
	return limited
}

// RegisterSession ties a connected user to its client IP.
func (t *Tracker) RegisterSession(userID, ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.ipSessions[ip]
	if !ok {
		users = make(map[string]struct{})
		t.ipSessions[ip] = users
	}
	users[userID] = struct{}{}
}

// UnregisterSession removes the user from its IP's session set.
func (t *Tracker) UnregisterSession(userID, ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.ipSessions[ip]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.ipSessions, ip)
	}
}

// SessionCountForIP reports how many live sessions share one client IP.
func (t *Tracker) SessionCountForIP(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ipSessions[ip])
}

// Snapshot is the unauthenticated roll-up served by the status endpoint.
type Snapshot struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	TotalRequests map[string]int64 `json:"total_requests"`
	ActiveUsers   map[string]int   `json:"active_users"`
	ActiveIPs     int              `json:"active_ips"`
	Timestamp     string           `json:"timestamp"`
}

// UserActivity is one anonymised row of the detailed payload.
type UserActivity struct {
	ID              string           `json:"id"`
	Role            string           `json:"role"`
	Requests        map[string]int64 `json:"requests"`
	ActiveAgo       int64            `json:"active_ago"`
	SessionDuration int64            `json:"session_duration"`
}

// DetailedSnapshot extends Snapshot with per-user activity. Access control
// is the caller's job.
type DetailedSnapshot struct {
	Snapshot
	Users []UserActivity `json:"users"`
}

// Snapshot captures the current aggregate state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	now := t.now()

	totals := make(map[string]int64, len(t.totals))
	for class, n := range t.totals {
		totals[string(class)] = n
	}

	// "total" counts everyone ever seen; the per-role counts only users
	// active inside the window.
	active := map[string]int{
		"total":  len(t.users),
		"anon":   0,
		"normal": 0,
		"pro":    0,
		"admin":  0,
	}
	cutoff := now.Add(-activeWindow)
	for _, user := range t.users {
		if !user.lastActive.Before(cutoff) {
			active[string(user.role)]++
		}
	}

	return Snapshot{
		UptimeSeconds: int64(now.Sub(t.startedAt).Seconds()),
		TotalRequests: totals,
		ActiveUsers:   active,
		ActiveIPs:     len(t.ipSessions),
		Timestamp:     now.Format(time.RFC3339),
	}
}

// DetailedSnapshot captures aggregates plus anonymised per-user rows. Users
// idle for over an hour are omitted; ids are truncated to eight characters.
func (t *Tracker) DetailedSnapshot() DetailedSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	detail := DetailedSnapshot{
		Snapshot: t.snapshotLocked(),
		Users:    make([]UserActivity, 0, len(t.users)),
	}
	for userID, user := range t.users {
		if now.Sub(user.lastActive) > detailCutoff {
			continue
		}
		requests := make(map[string]int64, len(user.requests))
		for class, n := range user.requests {
			requests[string(class)] = n
		}
		detail.Users = append(detail.Users, UserActivity{
			ID:              anonymiseID(userID),
			Role:            string(user.role),
			Requests:        requests,
			ActiveAgo:       int64(now.Sub(user.lastActive).Seconds()),
			SessionDuration: int64(now.Sub(user.firstSeen).Seconds()),
		})
	}
	return detail
}

func anonymiseID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return id + "..."
}
