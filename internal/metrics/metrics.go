// Package metrics exposes Prometheus counters for the document pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline metrics. Every method is safe on a nil receiver.
type Collector struct {
	registry *prometheus.Registry

	jobsEnqueued  prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsDead      prometheus.Counter
	tasksPruned   *prometheus.CounterVec
	reaped        *prometheus.CounterVec

	extractLatency prometheus.Histogram
	askLatency     prometheus.Histogram
}

// NewCollector creates a collector backed by its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_jobs_enqueued_total",
			Help: "Total number of extraction jobs enqueued",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_jobs_completed_total",
			Help: "Total number of extraction jobs that produced blocks",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_jobs_failed_total",
			Help: "Total number of failed extraction attempts",
		}),
		jobsDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_jobs_dead_total",
			Help: "Total number of extraction jobs that exhausted their attempts",
		}),
		tasksPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "document_queue_tasks_pruned_total",
			Help: "Total number of finished queue tasks removed by retention",
		}, []string{"state"}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "document_artifacts_reaped_total",
			Help: "Total number of uploaded artifacts removed, by call site",
		}, []string{"site"}),
		extractLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "document_extraction_seconds",
			Help:    "Latency of extraction calls",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		askLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "document_ask_seconds",
			Help:    "Latency of language model completions",
			Buckets: prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.jobsEnqueued,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsDead,
		c.tasksPruned,
		c.reaped,
		c.extractLatency,
		c.askLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// RegisterCacheSize exposes the number of resident cache records.
func (c *Collector) RegisterCacheSize(size func() int) {
	if c == nil || size == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "document_cache_records",
		Help: "Number of processing records held in memory",
	}, func() float64 { return float64(size()) }))
}

// RecordEnqueue counts a job accepted by the queue.
func (c *Collector) RecordEnqueue() {
	if c == nil {
		return
	}
	c.jobsEnqueued.Inc()
}

// RecordCompleted counts a job whose extraction produced blocks.
func (c *Collector) RecordCompleted() {
	if c == nil {
		return
	}
	c.jobsCompleted.Inc()
}

// RecordFailed counts a failed extraction attempt.
func (c *Collector) RecordFailed() {
	if c == nil {
		return
	}
	c.jobsFailed.Inc()
}

// RecordDead counts a job that used up all its attempts.
func (c *Collector) RecordDead() {
	if c == nil {
		return
	}
	c.jobsDead.Inc()
}

// RecordPruned counts tasks deleted from a finished queue state ("completed" or "archived").
func (c *Collector) RecordPruned(state string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.tasksPruned.WithLabelValues(state).Add(float64(n))
}

// RecordReap counts an artifact removal at the given call site.
func (c *Collector) RecordReap(site string) {
	if c == nil {
		return
	}
	c.reaped.WithLabelValues(site).Inc()
}

// ObserveExtraction records how long one extraction attempt took.
func (c *Collector) ObserveExtraction(d time.Duration) {
	if c == nil {
		return
	}
	c.extractLatency.Observe(d.Seconds())
}

// ObserveAsk records how long answering a question took.
func (c *Collector) ObserveAsk(d time.Duration) {
	if c == nil {
		return
	}
	c.askLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
