// Package metrics exposes Prometheus counters for the sync pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates sync pipeline counters. A nil *Collector is a no-op so
// callers never need to guard instrumentation sites.
type Collector struct {
	registry *prometheus.Registry

	jobRuns         *prometheus.CounterVec
	recordsFetched  *prometheus.CounterVec
	recordsSaved    *prometheus.CounterVec
	recordsFailed   *prometheus.CounterVec
	snapshotUpserts *prometheus.CounterVec
	rateLimitHits   *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemetrics_sync_job_runs_total",
			Help: "Sync job executions by job name and outcome.",
		}, []string{"job", "outcome"}),
		recordsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemetrics_records_fetched_total",
			Help: "Records fetched from upstream providers.",
		}, []string{"source"}),
		recordsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemetrics_records_saved_total",
			Help: "Ledger rows upserted successfully.",
		}, []string{"source"}),
		recordsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemetrics_records_failed_total",
			Help: "Ledger rows lost to failed upsert batches.",
		}, []string{"source"}),
		snapshotUpserts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemetrics_snapshot_upserts_total",
			Help: "Snapshot rows written, by provider.",
		}, []string{"source"}),
		rateLimitHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemetrics_provider_rate_limits_total",
			Help: "429 responses observed from upstream providers.",
		}, []string{"source"}),
	}
}

func (c *Collector) JobRun(job, outcome string) {
	if c == nil {
		return
	}
	c.jobRuns.WithLabelValues(job, outcome).Inc()
}

func (c *Collector) RecordsFetched(source string, n int) {
	if c == nil {
		return
	}
	c.recordsFetched.WithLabelValues(source).Add(float64(n))
}

func (c *Collector) RecordsSaved(source string, n int) {
	if c == nil {
		return
	}
	c.recordsSaved.WithLabelValues(source).Add(float64(n))
}

func (c *Collector) RecordsFailed(source string, n int) {
	if c == nil {
		return
	}
	c.recordsFailed.WithLabelValues(source).Add(float64(n))
}

func (c *Collector) SnapshotUpserts(source string, n int) {
	if c == nil {
		return
	}
	c.snapshotUpserts.WithLabelValues(source).Add(float64(n))
}

func (c *Collector) RateLimitHits(source string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.rateLimitHits.WithLabelValues(source).Add(float64(n))
}

// Handler serves the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
