// Package telemetry exposes Prometheus metrics for the correction pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	// DocumentsProcessed counts pipeline runs by outcome:
	// auto_applied, escalated, no_candidates, duplicate.
	DocumentsProcessed *prometheus.CounterVec

	// CorrectionsProposed counts deduplicated candidate corrections.
	CorrectionsProposed prometheus.Counter

	// CorrectionsApplied counts corrections written into normalized output.
	CorrectionsApplied prometheus.Counter

	// LearnEvents counts Learn-stage updates by verb: approved, rejected.
	LearnEvents *prometheus.CounterVec

	// ProcessDuration observes end-to-end pipeline latency in seconds.
	ProcessDuration prometheus.Histogram
}

// New creates the pipeline metrics registered on a fresh registry. The
// returned registry backs the /metrics endpoint.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		DocumentsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiced_documents_processed_total",
			Help: "Pipeline runs by outcome (auto_applied, escalated, no_candidates, duplicate).",
		}, []string{"outcome"}),
		CorrectionsProposed: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoiced_corrections_proposed_total",
			Help: "Deduplicated candidate corrections across all runs.",
		}),
		CorrectionsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoiced_corrections_applied_total",
			Help: "Corrections auto-applied into normalized documents.",
		}),
		LearnEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoiced_learn_events_total",
			Help: "Learn-stage confidence updates by verb (approved, rejected).",
		}, []string{"verb"}),
		ProcessDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoiced_process_duration_seconds",
			Help:    "End-to-end pipeline latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	return m, reg
}
