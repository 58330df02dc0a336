// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status"},
	)

	UploadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_upload_size_bytes",
			Help:    "Size of uploaded workbooks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"route"},
	)

	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_evaluations_total",
			Help: "Total number of KPI syntheses computed",
		},
		[]string{"source", "status"}, // source: http, worker, cli; status: ALRT, NALT, rejected, error
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_evaluation_duration_seconds",
			Help:    "Time spent evaluating one batch against the catalog",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	RecordsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_records_evaluated_total",
			Help: "Total number of metric records evaluated",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_batch_size",
			Help:    "Number of records per evaluated batch",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
	)

	RuleAlarms = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_rule_alarms_total",
			Help: "Total number of records that satisfied each rule",
		},
		[]string{"rule"},
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_records_skipped_total",
			Help: "Records skipped per rule because a referenced metric was missing",
		},
		[]string{"rule"},
	)

	CatalogRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_catalog_rules",
			Help: "Number of rules in the loaded catalog",
		},
	)

	// Collaborator metrics
	AuthValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_auth_validations_total",
			Help: "Token validations by outcome",
		},
		[]string{"outcome"}, // outcome: valid, invalid, cached, error
	)

	StorageUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_storage_uploads_total",
			Help: "Workbook relays to the storage service",
		},
		[]string{"status"}, // status: success, failed
	)

	// Worker metrics
	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_worker_processed_total",
			Help: "Total number of batches processed by the worker",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_worker_failed_total",
			Help: "Total number of batches the worker failed to process",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)

// ObserveReport records the per-rule counters of one evaluated batch.
func ObserveReport(records int, counts, skipped map[string]int64) {
	RecordsEvaluated.Add(float64(records))
	BatchSize.Observe(float64(records))
	for rule, n := range counts {
		if n > 0 {
			RuleAlarms.WithLabelValues(rule).Add(float64(n))
		}
	}
	for rule, n := range skipped {
		if n > 0 {
			RecordsSkipped.WithLabelValues(rule).Add(float64(n))
		}
	}
}
