// Package metrics exposes Prometheus instrumentation for the engine.
//
// A Collector owns its registry, so independent instances never collide on
// registration. Serve it over HTTP with promhttp.HandlerFor(c.Registry(), ...).
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"peakcast/internal/blend"
	"peakcast/internal/coordinator"
	"peakcast/internal/scheduler"
	"peakcast/internal/types"
)

// DefaultNamespace prefixes every metric the engine exports.
const DefaultNamespace = "peakcast"

// Collector gathers engine metrics. It satisfies the metrics interfaces the
// coordinator and blend packages declare.
type Collector struct {
	registry *prometheus.Registry

	modelRunsTotal   *prometheus.CounterVec
	modelRunDuration *prometheus.HistogramVec
	modelRunResorts  *prometheus.HistogramVec
	hoursExtracted   *prometheus.CounterVec
	staleLockResets  *prometheus.CounterVec

	blendSweepsTotal   prometheus.Counter
	blendsComputed     prometheus.Counter
	blendsFailed       prometheus.Counter
	blendSweepDuration prometheus.Histogram

	cacheFilesRemoved prometheus.Counter
	cacheBytesFreed   prometheus.Counter
	cacheSizeBytes    prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var (
	_ coordinator.RunMetrics = (*Collector)(nil)
	_ blend.SweepMetrics     = (*Collector)(nil)
	_ scheduler.CacheMetrics = (*Collector)(nil)
)

// New builds a Collector backed by a fresh registry that also carries the
// standard Go runtime and process collectors.
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: registry,

		modelRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_runs_total",
			Help:      "Model run attempts by model and terminal status.",
		}, []string{"model", "status"}),
		modelRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_run_duration_seconds",
			Help:      "Wall-clock duration of model run processing.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"model"}),
		modelRunResorts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_run_resorts",
			Help:      "Resorts with valid data per completed model run.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}, []string{"model"}),
		hoursExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_hours_extracted_total",
			Help:      "Forecast hours extracted from upstream grids by model.",
		}, []string{"model"}),
		staleLockResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_lock_resets_total",
			Help:      "Processing claims reset after exceeding the stale timeout.",
		}, []string{"model"}),

		blendSweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blend_sweeps_total",
			Help:      "Blend sweeps run across all resorts.",
		}),
		blendsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blends_computed_total",
			Help:      "Resort and elevation blends computed and stored.",
		}),
		blendsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blend_failures_total",
			Help:      "Resort and elevation blends that failed during a sweep.",
		}),
		blendSweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blend_sweep_duration_seconds",
			Help:      "Wall-clock duration of a full blend sweep.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),

		cacheFilesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expired_files_total",
			Help:      "Tile cache files removed by retention cleanup.",
		}),
		cacheBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expired_bytes_total",
			Help:      "Bytes freed by tile cache retention cleanup.",
		}),
		cacheSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Current tile cache size on disk.",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Ops API requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Ops API request duration by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
		}, []string{"route"}),
	}

	registry.MustRegister(
		c.modelRunsTotal,
		c.modelRunDuration,
		c.modelRunResorts,
		c.hoursExtracted,
		c.staleLockResets,
		c.blendSweepsTotal,
		c.blendsComputed,
		c.blendsFailed,
		c.blendSweepDuration,
		c.cacheFilesRemoved,
		c.cacheBytesFreed,
		c.cacheSizeBytes,
		c.httpRequestsTotal,
		c.httpRequestDuration,
	)
	return c
}

// Registry returns the collector's registry for HTTP exposition.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordModelRun records a model run reaching a terminal status. The resort
// count is only observed for completed runs; failures would skew it with
// zeros.
func (c *Collector) RecordModelRun(modelID string, status types.JobStatus, duration time.Duration, resorts int) {
	c.modelRunsTotal.WithLabelValues(modelID, string(status)).Inc()
	c.modelRunDuration.WithLabelValues(modelID).Observe(duration.Seconds())
	if status == types.JobStatusCompleted {
		c.modelRunResorts.WithLabelValues(modelID).Observe(float64(resorts))
	}
}

// RecordHoursExtracted adds the forecast hours pulled from one upstream run.
func (c *Collector) RecordHoursExtracted(modelID string, hours int) {
	c.hoursExtracted.WithLabelValues(modelID).Add(float64(hours))
}

// RecordStaleLockReset counts a processing claim forcibly reset.
func (c *Collector) RecordStaleLockReset(modelID string) {
	c.staleLockResets.WithLabelValues(modelID).Inc()
}

// RecordBlendSweep records the outcome of one sweep over all resorts.
func (c *Collector) RecordBlendSweep(computed, failed int, duration time.Duration) {
	c.blendSweepsTotal.Inc()
	c.blendsComputed.Add(float64(computed))
	c.blendsFailed.Add(float64(failed))
	c.blendSweepDuration.Observe(duration.Seconds())
}

// RecordCacheCleanup records one retention sweep over the tile cache.
func (c *Collector) RecordCacheCleanup(removed int, freedBytes int64) {
	c.cacheFilesRemoved.Add(float64(removed))
	c.cacheBytesFreed.Add(float64(freedBytes))
}

// SetCacheSize updates the on-disk tile cache size gauge.
func (c *Collector) SetCacheSize(bytes int64) {
	c.cacheSizeBytes.Set(float64(bytes))
}

// RecordHTTPRequest records one ops API request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
