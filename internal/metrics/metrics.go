package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles every Prometheus metric the broker exposes. It registers
// on a private registry so embedding applications can mount it wherever they
// serve metrics. A nil *Collector is valid and records nothing, so callers
// never need to branch on whether metrics are enabled.
type Collector struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationErrors   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	eventsEmitted *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec

	queueDepth *prometheus.GaugeVec

	jobsCompleted   prometheus.Counter
	jobsFailed      prometheus.Counter
	jobsTimedOut    prometheus.Counter
	jobsRetried     prometheus.Counter
	jobsDeadLetter  prometheus.Counter
	jobDuration     prometheus.Histogram
	executionsGauge prometheus.Gauge

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheWrites    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheSyncs     prometheus.Counter
	cacheEntries   *prometheus.GaugeVec
	pendingWrites  prometheus.Gauge
}

// NewCollector creates a collector with all metrics registered on a fresh
// private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantain_operations_total",
			Help: "Broker operations by operation name and queue.",
		}, []string{"operation", "queue"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantain_operation_errors_total",
			Help: "Failed broker operations by operation name and error kind.",
		}, []string{"operation", "kind"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plantain_operation_duration_seconds",
			Help:    "Broker operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantain_events_emitted_total",
			Help: "Events delivered to listeners by event type.",
		}, []string{"event_type"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plantain_events_dropped_total",
			Help: "Events suppressed by rate limiting by event type.",
		}, []string{"event_type"}),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantain_queue_depth",
			Help: "Items currently in each queue.",
		}, []string{"queue"}),

		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_jobs_completed_total",
			Help: "Jobs that finished successfully.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_jobs_failed_total",
			Help: "Jobs that finished with a failure.",
		}),
		jobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_jobs_timed_out_total",
			Help: "Jobs that exceeded their execution timeout.",
		}),
		jobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_jobs_retried_total",
			Help: "Retry attempts scheduled for failed jobs.",
		}),
		jobsDeadLetter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_jobs_dead_lettered_total",
			Help: "Jobs routed to a dead letter queue.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "plantain_job_execution_seconds",
			Help:    "Job processor execution time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		executionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plantain_executions_in_flight",
			Help: "Jobs currently executing under the broker's supervision.",
		}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_cache_hits_total",
			Help: "Cache lookups served from memory.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_cache_misses_total",
			Help: "Cache lookups that fell through to Redis.",
		}),
		cacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_cache_writes_total",
			Help: "Cache entries written or refreshed.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_cache_evictions_total",
			Help: "Cache entries evicted by LRU or TTL.",
		}),
		cacheSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plantain_cache_syncs_total",
			Help: "Write-back flush cycles that reached Redis.",
		}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plantain_cache_entries",
			Help: "Entries resident per cache map.",
		}, []string{"cache"}),
		pendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plantain_cache_pending_writes",
			Help: "Dirty entries awaiting write-back flush.",
		}),
	}

	c.registry.MustRegister(
		c.operations, c.operationErrors, c.operationDuration,
		c.eventsEmitted, c.eventsDropped,
		c.queueDepth,
		c.jobsCompleted, c.jobsFailed, c.jobsTimedOut, c.jobsRetried, c.jobsDeadLetter,
		c.jobDuration, c.executionsGauge,
		c.cacheHits, c.cacheMisses, c.cacheWrites, c.cacheEvictions, c.cacheSyncs,
		c.cacheEntries, c.pendingWrites,
	)

	return c
}

// Registry exposes the private registry for mounting on an HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordOperation records one broker operation with its latency and outcome.
func (c *Collector) RecordOperation(operation, queue string, duration time.Duration, errKind string) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(operation, queue).Inc()
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if errKind != "" {
		c.operationErrors.WithLabelValues(operation, errKind).Inc()
	}
}

// RecordEvent counts an event delivered to listeners.
func (c *Collector) RecordEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts an event suppressed by rate limiting.
func (c *Collector) RecordEventDropped(eventType string) {
	if c == nil {
		return
	}
	c.eventsDropped.WithLabelValues(eventType).Inc()
}

// SetQueueDepth records the current number of items in a queue.
func (c *Collector) SetQueueDepth(queue string, depth int) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// DeleteQueueDepth drops the depth series for a removed queue.
func (c *Collector) DeleteQueueDepth(queue string) {
	if c == nil {
		return
	}
	c.queueDepth.DeleteLabelValues(queue)
}

// RecordJobCompleted counts a successful job and its execution time.
func (c *Collector) RecordJobCompleted(duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsCompleted.Inc()
	c.jobDuration.Observe(duration.Seconds())
}

// RecordJobFailed counts a failed job and its execution time.
func (c *Collector) RecordJobFailed(duration time.Duration) {
	if c == nil {
		return
	}
	c.jobsFailed.Inc()
	c.jobDuration.Observe(duration.Seconds())
}

// RecordJobTimedOut counts a job that lost the race to its timer.
func (c *Collector) RecordJobTimedOut() {
	if c == nil {
		return
	}
	c.jobsTimedOut.Inc()
}

// RecordRetry counts a scheduled retry attempt.
func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.jobsRetried.Inc()
}

// RecordDeadLetter counts a job routed to a dead letter queue.
func (c *Collector) RecordDeadLetter() {
	if c == nil {
		return
	}
	c.jobsDeadLetter.Inc()
}

// ExecutionStarted increments the in-flight execution gauge.
func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}
	c.executionsGauge.Inc()
}

// ExecutionFinished decrements the in-flight execution gauge.
func (c *Collector) ExecutionFinished() {
	if c == nil {
		return
	}
	c.executionsGauge.Dec()
}

// RecordCacheHit counts a lookup served from memory.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss counts a lookup that fell through to Redis.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordCacheWrite counts a cache entry written or refreshed.
func (c *Collector) RecordCacheWrite() {
	if c == nil {
		return
	}
	c.cacheWrites.Inc()
}

// RecordCacheEviction counts an entry evicted by LRU or TTL.
func (c *Collector) RecordCacheEviction() {
	if c == nil {
		return
	}
	c.cacheEvictions.Inc()
}

// RecordCacheSync counts a write-back flush cycle.
func (c *Collector) RecordCacheSync() {
	if c == nil {
		return
	}
	c.cacheSyncs.Inc()
}

// SetCacheEntries records how many entries a cache map holds.
func (c *Collector) SetCacheEntries(cache string, n int) {
	if c == nil {
		return
	}
	c.cacheEntries.WithLabelValues(cache).Set(float64(n))
}

// SetPendingWrites records the size of the write-back pending set.
func (c *Collector) SetPendingWrites(n int) {
	if c == nil {
		return
	}
	c.pendingWrites.Set(float64(n))
}
