// Package metrics exposes the Prometheus collectors shared by
// Retrieval and Maintenance, grounded on the pack's promauto-based
// collector definitions but constructor-scoped (via promauto.With) so
// multiple Engine/Maintenance instances in the same process — or in
// tests — never double-register collectors against the default
// registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "memcore"

// LatencyBuckets covers sub-millisecond index lookups through
// multi-second degraded-path retrievals.
var LatencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Retrieval holds the collectors Engine.Search reports to.
type Retrieval struct {
	SearchLatency    *prometheus.HistogramVec
	SearchesTotal    *prometheus.CounterVec
	DegradedSearches prometheus.Counter
	CandidatesTotal  *prometheus.HistogramVec
}

// NewRetrieval registers Retrieval's collectors against reg.
func NewRetrieval(reg prometheus.Registerer) *Retrieval {
	factory := promauto.With(reg)
	return &Retrieval{
		SearchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "search_latency_seconds",
			Help:      "End-to-end Search latency by mode",
			Buckets:   LatencyBuckets,
		}, []string{"mode"}),
		SearchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "searches_total",
			Help:      "Total Search calls by mode and outcome",
		}, []string{"mode", "outcome"}),
		DegradedSearches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "degraded_searches_total",
			Help:      "Searches that completed with one or more degraded candidate sources",
		}),
		CandidatesTotal: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "candidates_total",
			Help:      "Number of fused candidates considered per search",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"mode"}),
	}
}

// Maintenance holds the collectors a maintenance run reports to.
type Maintenance struct {
	RunDuration   *prometheus.HistogramVec
	RunsTotal     *prometheus.CounterVec
	Decayed       prometheus.Gauge
	Pruned        prometheus.Gauge
	HardDeleted   prometheus.Gauge
}

// NewMaintenance registers Maintenance's collectors against reg.
func NewMaintenance(reg prometheus.Registerer) *Maintenance {
	factory := promauto.With(reg)
	return &Maintenance{
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "run_duration_seconds",
			Help:      "Duration of a maintenance run by phase",
			Buckets:   LatencyBuckets,
		}, []string{"phase"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Total maintenance runs by outcome",
		}, []string{"outcome"}),
		Decayed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "decayed_memories",
			Help:      "Memories whose importance was decayed in the last run",
		}),
		Pruned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "pruned_memories",
			Help:      "Memories soft-deleted (forgotten) in the last run",
		}),
		HardDeleted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "hard_deleted_memories",
			Help:      "Memories physically removed in the last run",
		}),
	}
}
