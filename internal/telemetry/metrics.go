package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "aggregator_jobs_enqueued_total", Help: "Total enqueued aggregation jobs"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "aggregator_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "aggregator_jobs_completed_total", Help: "Jobs completed"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "aggregator_jobs_failed_total", Help: "Jobs failed"})
	JobsReclaimed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "aggregator_jobs_reclaimed_total", Help: "Expired leases returned to the ready list"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "aggregator_queue_depth", Help: "Waiting jobs"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "aggregator_jobs_inflight", Help: "Jobs currently active on this worker"})
	GroupsEmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "aggregator_product_groups_total", Help: "Cross-source product groups emitted"})

	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_job_duration_seconds",
		Help:    "Wall time from claim to terminal state",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
	})
	SourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregator_source_failures_total",
		Help: "Source adapter calls that ended isolated",
	}, []string{"source", "reason"})
	SourceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aggregator_source_fetch_seconds",
		Help:    "Source adapter latency including retries",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"source"})
	SourceListings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregator_source_listings_total",
		Help: "Listings returned per source",
	}, []string{"source"})
)

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			RateLimitRejects,
			JobsCompleted,
			JobsFailed,
			JobsReclaimed,
			QueueDepthGauge,
			InFlightGauge,
			GroupsEmitted,
			JobDuration,
			SourceFailures,
			SourceLatency,
			SourceListings,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// ObserveSource records one isolated source call.
func ObserveSource(source string, start time.Time, listings int) {
	SourceLatency.WithLabelValues(source).Observe(time.Since(start).Seconds())
	SourceListings.WithLabelValues(source).Add(float64(listings))
}
