// SPDX-License-Identifier: MIT

// Package pool manages the fleet of upstream video-generation workers.
// Endpoints are expensive and fail often, so the pool leases them out one
// request at a time with least-recently-used fairness and exponential
// error backoff.
package pool

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/log"
)

var (
	leasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "pool_leases_total",
		Help:      "Total endpoint leases handed out",
	})
	leasesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clipmux",
		Name:      "pool_leases_active",
		Help:      "Leases currently held",
	})
	endpointErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "pool_endpoint_errors_total",
		Help:      "Upstream failures reported per endpoint",
	}, []string{"endpoint", "timeout"})
	acquireTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "pool_acquire_timeouts_total",
		Help:      "Lease acquisitions abandoned after exhausting their budget",
	})
)

const (
	// DefaultMaxWait bounds how long Acquire keeps trying before giving up.
	DefaultMaxWait = 10 * time.Second

	// acquireRetryInterval paces re-selection while nothing is leasable.
	acquireRetryInterval = 100 * time.Millisecond

	baseBackoff = 15 * time.Second
	maxBackoff  = 5 * time.Minute
)

// ErrAcquireTimeout is returned when no endpoint could be leased within the
// caller's budget.
var ErrAcquireTimeout = errors.New("pool: no endpoint available within wait budget")

// endpoint is the mutable record for one upstream worker. Every field is
// guarded by the pool mutex.
type endpoint struct {
	id         int
	url        string
	busy       bool
	lastUsed   time.Time
	errorCount int
	errorUntil time.Time
}

// Options tunes a Pool. The zero value is production-ready.
type Options struct {
	// Clock overrides time.Now, used by tests.
	Clock func() time.Time
	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// Pool owns the endpoint records and the selection strategy. All state is
// process-local; there is no cross-instance coordination.
type Pool struct {
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	endpoints []*endpoint
	lastIndex int
}

// New builds a Pool over the given endpoint URLs, in slot order. Endpoint
// ids are 1-based to match operator dashboards.
func New(urls []string, opts Options) *Pool {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := log.WithComponent("pool")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	p := &Pool{
		logger:    logger,
		now:       opts.Clock,
		endpoints: make([]*endpoint, 0, len(urls)),
		lastIndex: -1,
	}
	for i, url := range urls {
		p.endpoints = append(p.endpoints, &endpoint{id: i + 1, url: url})
	}

	if len(p.endpoints) == 0 {
		p.logger.Warn().
			Str(log.FieldEvent, "pool.empty").
			Msg("no video endpoints configured, generation will be unavailable")
	}
	return p
}

// Size reports how many endpoints are configured.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// FreeCount reports how many endpoints are idle and outside their error
// window right now.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	free := 0
	for _, ep := range p.endpoints {
		if !ep.busy && now.After(ep.errorUntil) {
			free++
		}
	}
	return free
}

// Acquire leases an endpoint within the default wait budget.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	return p.AcquireWithin(ctx, DefaultMaxWait)
}

// AcquireWithin leases an endpoint, retrying until maxWait elapses. As long
// as at least one endpoint exists the lease is immediate: a busy or cooling
// endpoint is still handed out rather than making the caller wait, so the
// timeout only fires when the pool is empty.
func (p *Pool) AcquireWithin(ctx context.Context, maxWait time.Duration) (*Lease, error) {
	deadline := time.Now().Add(maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			acquireTimeouts.Inc()
			p.logger.Warn().
				Dur("budget", maxWait).
				Str(log.FieldEvent, "pool.acquire.timeout").
				Msg("no endpoint leased within budget")
			return nil, ErrAcquireTimeout
		}

		p.mu.Lock()
		ep := p.selectLocked(p.now())
		if ep != nil {
			ep.busy = true
			ep.lastUsed = p.now()
			p.mu.Unlock()
			leasesTotal.Inc()
			leasesActive.Inc()
			return &Lease{pool: p, ep: ep}, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

// selectLocked picks the endpoint to lease. Preference order: the least
// recently used endpoint that is neither busy nor cooling down; otherwise
// round-robin across endpoints outside their error window even if busy;
// otherwise the endpoint whose error window expires first. The caller holds
// the mutex.
func (p *Pool) selectLocked(now time.Time) *endpoint {
	if len(p.endpoints) == 0 {
		return nil
	}

	var free *endpoint
	for _, ep := range p.endpoints {
		if ep.busy || !now.After(ep.errorUntil) {
			continue
		}
		if free == nil || ep.lastUsed.Before(free.lastUsed) {
			free = ep
		}
	}
	if free != nil {
		return free
	}

	for tried, idx := 0, p.lastIndex; tried < len(p.endpoints); tried++ {
		idx = (idx + 1) % len(p.endpoints)
		if now.After(p.endpoints[idx].errorUntil) {
			p.lastIndex = idx
			return p.endpoints[idx]
		}
	}

	coolest := p.endpoints[0]
	for _, ep := range p.endpoints[1:] {
		if ep.errorUntil.Before(coolest.errorUntil) {
			coolest = ep
		}
	}
	return coolest
}

// reportFailure applies exponential backoff to ep. The window starts at 15s
// and doubles per consecutive failure up to 5 minutes; timeouts double it
// once more since they tend to indicate a wedged worker.
func (p *Pool) reportFailure(ep *endpoint, isTimeout bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep.errorCount++
	backoff := baseBackoff
	for i := 1; i < ep.errorCount && backoff < maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	if isTimeout {
		backoff *= 2
	}
	ep.errorUntil = p.now().Add(backoff)

	endpointErrors.WithLabelValues(strconv.Itoa(ep.id), strconv.FormatBool(isTimeout)).Inc()
	p.logger.Warn().
		Int(log.FieldEndpointID, ep.id).
		Int("error_count", ep.errorCount).
		Dur("backoff", backoff).
		Bool("timeout", isTimeout).
		Str(log.FieldEvent, "pool.endpoint.error").
		Msg("endpoint marked as failing")
}

// reportSuccess clears the error state so one good reply fully rehabilitates
// the endpoint.
func (p *Pool) reportSuccess(ep *endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.errorCount = 0
	ep.errorUntil = time.Time{}
}

// release returns the endpoint to the pool and restamps its recency.
func (p *Pool) release(ep *endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep.busy = false
	ep.lastUsed = p.now()
}

// EndpointStatus is one row of the operator status payload. Times are unix
// seconds to keep the wire shape the web client already consumes.
type EndpointStatus struct {
	ID         int     `json:"id"`
	URL        string  `json:"url"`
	Busy       bool    `json:"busy"`
	LastUsed   float64 `json:"last_used"`
	ErrorCount int     `json:"error_count"`
	ErrorUntil float64 `json:"error_until"`
}

// Snapshot captures the current state of every endpoint.
func (p *Pool) Snapshot() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		statuses = append(statuses, EndpointStatus{
			ID:         ep.id,
			URL:        ep.url,
			Busy:       ep.busy,
			LastUsed:   epochSeconds(ep.lastUsed),
			ErrorCount: ep.errorCount,
			ErrorUntil: epochSeconds(ep.errorUntil),
		})
	}
	return statuses
}

func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// Lease is a scoped claim on one endpoint. Callers must Release on every
// exit path; Release is idempotent so a deferred call is always safe.
type Lease struct {
	pool *Pool
	ep   *endpoint
	once sync.Once
}

// EndpointID identifies the leased endpoint (1-based).
func (l *Lease) EndpointID() int {
	return l.ep.id
}

// URL is the upstream address of the leased endpoint.
func (l *Lease) URL() string {
	return l.ep.url
}

// Release returns the endpoint to the pool. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.ep)
		leasesActive.Dec()
	})
}

// ReportFailure marks the leased endpoint as failing, growing its backoff
// window. Timeouts double the window.
func (l *Lease) ReportFailure(isTimeout bool) {
	l.pool.reportFailure(l.ep, isTimeout)
}

// ReportSuccess resets the endpoint's error state after a good reply.
func (l *Lease) ReportSuccess() {
	l.pool.reportSuccess(l.ep)
}
