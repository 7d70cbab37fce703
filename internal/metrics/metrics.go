// Package metrics exposes Prometheus collectors for the edge: request outcomes
// per site, worker lifecycle transitions and cache maintenance events.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fintrack/cachehub/internal/worker"
)

const namespace = "cachehub"

// Recorder holds the collectors on a private registry so tests and multiple
// servers in one process never collide on the default registry.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	workerState      *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	cacheWriteErrors *prometheus.CounterVec
	prunedTotal      *prometheus.CounterVec
}

// NewRecorder creates and registers all collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled by the edge, by site, response source and status",
			},
			[]string{"site", "source", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time to produce response headers, by site and response source",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"site", "source"},
		),
		workerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_active_info",
				Help:      "Set to 1 for the active worker version of each site",
			},
			[]string{"site", "worker", "version"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_transitions_total",
				Help:      "Worker lifecycle transitions, by site and target state",
			},
			[]string{"site", "state"},
		),
		cacheWriteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_write_failures_total",
				Help:      "Best-effort cache writes that failed, by site and partition",
			},
			[]string{"site", "partition"},
		),
		prunedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_pruned_total",
				Help:      "Stale cache partitions deleted during activation",
			},
			[]string{"site"},
		),
	}
	r.registry.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.workerState,
		r.transitions,
		r.cacheWriteErrors,
		r.prunedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the Prometheus text exposition for this recorder.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRequest records one proxied request.
func (r *Recorder) ObserveRequest(site string, source worker.Source, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	src := string(source)
	r.requestsTotal.WithLabelValues(site, src, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(site, src).Observe(elapsed.Seconds())
}

// WorkerState implements worker.Observer.
func (r *Recorder) WorkerState(site, key, version string, state worker.State) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(site, string(state)).Inc()
	switch state {
	case worker.StateActivated:
		r.workerState.WithLabelValues(site, key, version).Set(1)
	case worker.StateRedundant:
		r.workerState.DeleteLabelValues(site, key, version)
	}
}

// CacheWriteFailed implements worker.Observer.
func (r *Recorder) CacheWriteFailed(site, partition string) {
	if r == nil {
		return
	}
	r.cacheWriteErrors.WithLabelValues(site, partition).Inc()
}

// PartitionsPruned implements worker.Observer.
func (r *Recorder) PartitionsPruned(site string, names []string) {
	if r == nil {
		return
	}
	r.prunedTotal.WithLabelValues(site).Add(float64(len(names)))
}

var _ worker.Observer = (*Recorder)(nil)
