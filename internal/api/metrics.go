// SPDX-License-Identifier: MIT

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	staticDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "static_requests_denied_total",
		Help:      "Static file requests refused, by reason.",
	}, []string{"reason"})

	staticServedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "static_requests_served_total",
		Help:      "Static file requests served with content.",
	})

	staticCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "static_cache_hits_total",
		Help:      "Static file requests answered 304 Not Modified.",
	})

	staticSPAFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clipmux",
		Name:      "static_spa_fallbacks_total",
		Help:      "Static file requests rerouted to the root index.html.",
	})
)
