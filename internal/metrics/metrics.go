// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors of the fetcher. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "user_info_fetcher"

// CacheResult describes how a cache lookup was answered.
type CacheResult string

const (
	CacheHit CacheResult = "hit"
	// CacheMiss means this lookup resolved the user with the backend.
	CacheMiss CacheResult = "miss"
	// CacheShared means this lookup waited for a resolution started by a concurrent lookup.
	CacheShared CacheResult = "shared"

	OutcomeSuccess = "success"
)

type Metrics struct {
	registry *prometheus.Registry

	cacheRequests   *prometheus.CounterVec
	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
}

// New registers all collectors, plus the Go runtime and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		cacheRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Total number of user info lookups by cache result",
			},
			[]string{"result"}, // "hit", "miss", "shared"
		),
		backendRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "Total number of backend lookups by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		backendDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_request_duration_seconds",
				Help:      "Duration of backend lookups in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		),
	}
}

func (m *Metrics) RecordCacheResult(result CacheResult) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(string(result)).Inc()
}

// RecordBackendRequest counts one backend lookup. outcome is OutcomeSuccess or the error kind.
func (m *Metrics) RecordBackendRequest(backend, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(backend, outcome).Inc()
	m.backendDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
