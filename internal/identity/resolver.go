// SPDX-License-Identifier: MIT

package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clipmux/clipmux/internal/log"
)

var resolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "identity_resolutions_total",
		Help:      "Total token resolutions by outcome",
	},
	[]string{"role", "source"},
)

const (
	defaultBaseURL  = "https://huggingface.co"
	defaultCacheTTL = 600 * time.Second
)

// Identity is the resolved caller: a role plus the upstream username.
// Anonymous callers carry an empty username.
type Identity struct {
	Role     Role
	Username string
}

// Options configures a Resolver.
type Options struct {
	// BaseURL is the identity provider root (default: the Hugging Face hub).
	BaseURL string
	// HTTPClient overrides the client used for whoami calls.
	HTTPClient *http.Client
	// AdminAccounts lists usernames that resolve to RoleAdmin.
	AdminAccounts []string
	// CacheTTL bounds how long a token resolution stays valid (default 600s).
	CacheTTL time.Duration
	// Clock overrides time.Now, used by tests.
	Clock func() time.Time
}

type cacheEntry struct {
	identity Identity
	at       time.Time
}

// Resolver validates tokens against the identity provider and caches the
// verdict per token. Lookups for the same token are collapsed so a burst of
// connections does not stampede the upstream API.
type Resolver struct {
	baseURL string
	client  *http.Client
	admins  map[string]struct{}
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry

	group  singleflight.Group
	logger zerolog.Logger
}

// NewResolver builds a Resolver from opts, applying defaults for unset fields.
func NewResolver(opts Options) *Resolver {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	admins := make(map[string]struct{}, len(opts.AdminAccounts))
	for _, name := range opts.AdminAccounts {
		admins[name] = struct{}{}
	}
	return &Resolver{
		baseURL: opts.BaseURL,
		client:  opts.HTTPClient,
		admins:  admins,
		ttl:     opts.CacheTTL,
		now:     opts.Clock,
		cache:   make(map[string]cacheEntry),
		logger:  log.WithComponent("identity"),
	}
}

// Resolve maps a raw token to an Identity. A missing token, an upstream
// failure, or an unusable response all degrade to the anonymous identity;
// Resolve never fails hard.
func (r *Resolver) Resolve(ctx context.Context, token string) Identity {
	if token == "" {
		resolutionsTotal.WithLabelValues(string(RoleAnonymous), "anon").Inc()
		return Identity{Role: RoleAnonymous}
	}

	if id, ok := r.cached(token); ok {
		resolutionsTotal.WithLabelValues(string(id.Role), "cache").Inc()
		return id
	}

	v, err, _ := r.group.Do(token, func() (interface{}, error) {
		return r.fetch(ctx, token), nil
	})
	if err != nil {
		return Identity{Role: RoleAnonymous}
	}
	id := v.(Identity)
	resolutionsTotal.WithLabelValues(string(id.Role), "api").Inc()
	return id
}

func (r *Resolver) cached(token string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[token]
	if !ok {
		return Identity{}, false
	}
	if r.now().Sub(entry.at) >= r.ttl {
		delete(r.cache, token)
		return Identity{}, false
	}
	return entry.identity, true
}

type whoamiResponse struct {
	Name  string `json:"name"`
	IsPro bool   `json:"isPro"`
}

// fetch validates the token upstream. Failures are logged and reported as
// anonymous without being cached, so a transient outage heals on its own.
func (r *Resolver) fetch(ctx context.Context, token string) Identity {
	anon := Identity{Role: RoleAnonymous}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/whoami-v2", nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to build whoami request")
		return anon
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).Str(log.FieldEvent, "identity.whoami.failed").Msg("token validation failed")
		return anon
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn().
			Int("status", resp.StatusCode).
			Str(log.FieldEvent, "identity.whoami.rejected").
			Msg("token rejected by identity provider")
		return anon
	}

	var who whoamiResponse
	if err := json.NewDecoder(resp.Body).Decode(&who); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldEvent, "identity.whoami.decode").Msg("unreadable whoami response")
		return anon
	}
	if who.Name == "" {
		r.logger.Warn().Str(log.FieldEvent, "identity.whoami.anonymous").Msg("whoami response carries no username")
		return anon
	}

	id := Identity{Username: who.Name}
	switch {
	case r.isAdmin(who.Name):
		id.Role = RoleAdmin
	case who.IsPro:
		id.Role = RolePro
	default:
		id.Role = RoleNormal
	}

	r.mu.Lock()
	r.cache[token] = cacheEntry{identity: id, at: r.now()}
	r.mu.Unlock()

	r.logger.Info().
		Str(log.FieldUserID, who.Name).
		Str(log.FieldRole, string(id.Role)).
		Str(log.FieldEvent, "identity.resolved").
		Msg("token validated")

	return id
}

func (r *Resolver) isAdmin(username string) bool {
	_, ok := r.admins[username]
	return ok
}

// CacheSize reports how many token verdicts are currently cached.
func (r *Resolver) CacheSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
