// Package metrics holds Prometheus instruments shared by the cache layer,
// the job runner, and both pipelines.  All collectors are registered with
// the global registry, so importing this package in main.go is enough to
// expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_lookups_total",
			Help: "Read-through lookups by result (hit, miss, error, bypass).",
		}, []string{"result"})

	CacheFillErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_cache_fill_errors_total",
			Help: "Cache population failures swallowed after a miss.",
		})

	CacheInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_cache_invalidated_entries_total",
			Help: "Entries removed by tag invalidation.",
		})

	JobAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_job_attempts_total",
			Help: "Job attempts by kind and outcome (completed, retried, buried).",
		}, []string{"kind", "outcome"})

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_job_duration_seconds",
			Help:    "Wall-clock time of a single job attempt.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"kind"})

	ImportRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_import_rows_total",
			Help: "Imported rows by result (success, failure).",
		}, []string{"result"})

	ExportRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_export_records_total",
			Help: "Customers written to export artifacts by format.",
		}, []string{"format"})

	ExportsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_exports_expired_total",
			Help: "Exports cleaned up by the expiry sweep.",
		})
)

func init() {
	prometheus.MustRegister(
		CacheLookups,
		CacheFillErrors,
		CacheInvalidations,
		JobAttempts,
		JobDuration,
		ImportRows,
		ExportRecords,
		ExportsExpired,
	)
}
