// Package metrics provides Prometheus metrics for the podium ranking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ingestion
	submissions       *prometheus.CounterVec
	submissionLatency prometheus.Histogram
	duplicates        prometheus.Counter

	// Ranking store
	storeLatency      *prometheus.HistogramVec
	storeRecords      prometheus.Gauge
	storeLeaderboards prometheus.Gauge
	storeEvictions    prometheus.Counter

	// Rebuild
	rebuilds        *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	rebuildRows     prometheus.Histogram

	// Durability queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec
	jobs               *prometheus.CounterVec
	jobAttempts        prometheus.Histogram
	jobLatency         prometheus.Histogram
	workerCount        prometheus.Gauge

	// Notifications
	notificationsPublished *prometheus.CounterVec
	notificationsDropped   *prometheus.CounterVec
	subscribers            prometheus.Gauge
	groups                 prometheus.Gauge

	// Ledger
	ledgerLatency *prometheus.HistogramVec
	breakerState  prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         prometheus.Counter

	// Errors
	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global metrics setup
	customRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "podium",
		subsystem:        "ranking",
		histogramBuckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.submissions = m.counterVec("submissions_total", "Score submissions by outcome", "outcome")
	m.submissionLatency = m.histogram("submission_latency_milliseconds", "Synchronous part of a score submission in milliseconds", m.histogramBuckets)
	m.duplicates = m.counter("submissions_duplicate_total", "Submissions short-circuited by an idempotency key")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Ranking store operation latency in milliseconds", "operation")
	m.storeRecords = m.gauge("store_records", "Entries held by the ranking store across all leaderboards")
	m.storeLeaderboards = m.gauge("store_leaderboards", "Leaderboards resident in the ranking store")
	m.storeEvictions = m.counter("store_evictions_total", "Leaderboards evicted from the ranking store after idling")

	m.rebuilds = m.counterVec("rebuilds_total", "Cache rebuilds by outcome", "outcome")
	m.rebuildDuration = m.histogram("rebuild_duration_milliseconds", "Cache rebuild duration in milliseconds", m.histogramBuckets)
	m.rebuildRows = m.histogram("rebuild_rows", "Rows loaded from the ledger per rebuild", prometheus.ExponentialBuckets(1, 4, 7))

	m.queueSize = m.gauge("queue_size", "Durability jobs waiting in the in-memory queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the in-memory durability queue")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Durability jobs accepted by the queue")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Durability jobs the queue refused", "reason")
	m.jobs = m.counterVec("jobs_total", "Durability jobs by outcome", "outcome")
	m.jobAttempts = m.histogram("job_attempts", "Attempts needed to persist a durability job", []float64{1, 2, 3, 5, 8, 13})
	m.jobLatency = m.histogram("job_latency_milliseconds", "Time to persist a durability job in milliseconds", m.histogramBuckets)
	m.workerCount = m.gauge("worker_count", "Durability workers running")

	m.notificationsPublished = m.counterVec("notifications_published_total", "Notifications delivered to subscriber buffers", "kind")
	m.notificationsDropped = m.counterVec("notifications_dropped_total", "Notifications dropped by backpressure", "policy")
	m.subscribers = m.gauge("subscribers", "Connected notification subscribers")
	m.groups = m.gauge("subscriber_groups", "Leaderboards with at least one subscriber")

	m.ledgerLatency = m.histogramVec("ledger_latency_milliseconds", "Ledger call latency in milliseconds", "operation")
	m.breakerState = m.gauge("ledger_breaker_state", "Ledger circuit breaker state (0 closed, 1 half-open, 2 open)")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.rateLimited = m.counter("http_rate_limited_total", "Submissions rejected by the rate limiter")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
}

// RecordSubmission counts a submission outcome (ok, invalid, unavailable, inconsistent).
func RecordSubmission(outcome string, latencyMs float64) {
	globalManager.submissions.WithLabelValues(outcome).Inc()
	globalManager.submissionLatency.Observe(latencyMs)
}

// RecordDuplicate counts a replayed idempotency key.
func RecordDuplicate() { globalManager.duplicates.Inc() }

// RecordStoreLatency records a ranking store operation.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateStoreSize sets the resident record and leaderboard gauges.
func UpdateStoreSize(records, leaderboards int) {
	globalManager.storeRecords.Set(float64(records))
	globalManager.storeLeaderboards.Set(float64(leaderboards))
}

// RecordStoreEviction counts an idle leaderboard eviction.
func RecordStoreEviction() { globalManager.storeEvictions.Inc() }

// RecordRebuild records a rebuild outcome, its duration and row count.
func RecordRebuild(outcome string, durationMs float64, rows int) {
	globalManager.rebuilds.WithLabelValues(outcome).Inc()
	globalManager.rebuildDuration.Observe(durationMs)
	if rows >= 0 {
		globalManager.rebuildRows.Observe(float64(rows))
	}
}

// UpdateQueueSize sets the current queue depth.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueEnqueueError counts a refused job.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// RecordJob records a finished durability job.
func RecordJob(outcome string, attempts int, latencyMs float64) {
	globalManager.jobs.WithLabelValues(outcome).Inc()
	globalManager.jobAttempts.Observe(float64(attempts))
	globalManager.jobLatency.Observe(latencyMs)
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordNotificationPublished counts deliveries of one event kind.
func RecordNotificationPublished(kind string, delivered int) {
	globalManager.notificationsPublished.WithLabelValues(kind).Add(float64(delivered))
}

// RecordNotificationDropped counts an event discarded by backpressure.
func RecordNotificationDropped(policy string) {
	globalManager.notificationsDropped.WithLabelValues(policy).Inc()
}

// UpdateSubscribers sets subscriber and group gauges.
func UpdateSubscribers(connections, groups int) {
	globalManager.subscribers.Set(float64(connections))
	globalManager.groups.Set(float64(groups))
}

// RecordLedgerLatency records a ledger call.
func RecordLedgerLatency(operation string, latencyMs float64) {
	globalManager.ledgerLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateBreakerState sets the ledger circuit breaker gauge.
func UpdateBreakerState(state int) { globalManager.breakerState.Set(float64(state)) }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordRateLimited counts a submission rejected by the limiter.
func RecordRateLimited() { globalManager.rateLimited.Inc() }

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the registry every collector is registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
