// Package metrics forwards counter deltas to a DogStatsD sink and exposes the
// sampler's own Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Ticks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pressurize",
			Name:      "ticks_total",
			Help:      "Total number of sampling ticks processed per counter.",
		},
		[]string{"counter"},
	)

	ReadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pressurize",
			Name:      "read_errors_total",
			Help:      "Total number of ticks skipped because the producer table could not be read.",
		},
		[]string{"counter"},
	)

	DeltasEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pressurize",
			Name:      "deltas_emitted_total",
			Help:      "Total number of counter deltas sent to the statsd sink.",
		},
		[]string{"counter"},
	)

	EmitErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pressurize",
			Name:      "emit_errors_total",
			Help:      "Total number of failed statsd sink calls.",
		},
		[]string{"counter"},
	)

	Anomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pressurize",
			Name:      "anomalies_total",
			Help:      "Total number of observations where a cumulative counter decreased.",
		},
		[]string{"counter"},
	)

	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pressurize",
			Name:      "evictions_total",
			Help:      "Total number of series dropped after the retention window.",
		},
		[]string{"counter"},
	)

	TrackedSeries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pressurize",
			Name:      "tracked_series",
			Help:      "Number of (cpu, pid, name) series currently retained.",
		},
		[]string{"counter"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pressurize",
			Name:      "tick_duration_seconds",
			Help:      "Time spent sampling, diffing, emitting and evicting in one tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
)
