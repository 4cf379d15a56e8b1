package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ramp_ingest_requests_total",
			Help: "Order ingest calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ramp_ingest_duration_seconds",
			Help:    "Order ingest latency including reconciliation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ramp_order_status_transitions_total",
			Help: "Order status transitions by kind (new, advanced, unchanged, stale, terminal_flip)",
		},
		[]string{"transition"},
	)

	// UnknownProviderStatuses counts provider statuses missing from the
	// normalization table. They are stored as PENDING, so a new terminal
	// status shows up here before anywhere else.
	UnknownProviderStatuses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ramp_unknown_provider_status_total",
			Help: "Provider statuses that were not recognized and defaulted to PENDING",
		},
	)

	LedgerEffects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ramp_ledger_effects_total",
			Help: "Completion effects by kind (buy, sell, skipped)",
		},
		[]string{"effect"},
	)

	ReconcileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ramp_reconcile_failures_total",
			Help: "Reconciliation fetches that failed and fell back to submitted values",
		},
	)
)
