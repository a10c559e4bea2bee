package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus collectors for the read API on a private
// registry. Only HTTP requests are counted; CLI commands report integrity
// violations through slog alone.
type metrics struct {
	registry *prometheus.Registry

	nowPlayingRequests  *prometheus.CounterVec
	nowPlayingDuration  prometheus.Histogram
	integrityViolations prometheus.Counter
}

func newMetrics() (*metrics, error) {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		nowPlayingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nowplaying_requests_total",
				Help: "Now-playing lookups partitioned by result (on_air, off_air, error).",
			},
			[]string{"result"},
		),
		nowPlayingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nowplaying_query_duration_seconds",
				Help:    "Time taken to resolve the current broadcast.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
		),
		integrityViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nowplaying_integrity_violations_total",
				Help: "Plays found referencing a missing program or recording.",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.nowPlayingRequests,
		m.nowPlayingDuration,
		m.integrityViolations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *metrics) observeNowPlaying(result string, took time.Duration) {
	m.nowPlayingRequests.WithLabelValues(result).Inc()
	m.nowPlayingDuration.Observe(took.Seconds())
}

// observeError counts integrity violations surfaced by a read.
func (m *metrics) observeError(err error) {
	if errors.Is(err, ErrIntegrityViolation) {
		m.integrityViolations.Inc()
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
