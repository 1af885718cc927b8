// Package metrics exposes Prometheus collectors for engine operations, the
// job worker, notifications, the catalog cache and HTTP traffic.
package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

const namespace = "onesub"

// Metrics holds every collector the service reports.
type Metrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	jobs              *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobsActive        prometheus.Gauge
	jobsEnqueued      *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns collectors registered with the global Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// register adds c to reg, reusing an identical collector that is already
// registered. Any other registration error panics, like promauto.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// MustNewMetrics constructs and registers the collectors with reg. Tests
// should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &Metrics{
		operations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations applied to user records, by result.",
		}, []string{"op", "result"})),
		operationDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Time spent applying an operation and recomputing derived state.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"})),
		jobs: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs processed by the worker, by outcome (completed, retried, failed).",
		}, []string{"job_type", "outcome"})),
		jobDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Handler execution time per job type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"})),
		jobsActive: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_active",
			Help:      "Jobs currently being executed.",
		})),
		jobsEnqueued: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_enqueued_total",
			Help:      "Jobs enqueued by the scheduler. Deduplicated jobs are not counted.",
		}, []string{"job_type"})),
		notifications: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notifications by kind and delivery outcome (sent, failed, dropped).",
		}, []string{"kind", "outcome"})),
		cacheLookups: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "cache_lookups_total",
			Help:      "Catalog cache lookups by entry kind and result (hit, miss).",
		}, []string{"kind", "result"})),
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"})),
		requestDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"})),
	}
}

// ResultLabel classifies an operation error: ok, rejected for business-rule
// refusals, error for everything else.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, engine.ErrNotAuthenticated),
		errors.Is(err, engine.ErrNotVerified),
		errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, engine.ErrNotSubscribed),
		errors.Is(err, engine.ErrNotPaused),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInsufficientCredits),
		errors.Is(err, engine.ErrPerkLocked),
		errors.Is(err, engine.ErrPerkExpired),
		errors.Is(err, engine.ErrPerkInactive),
		engine.IsNotFound(err):
		return "rejected"
	default:
		return "error"
	}
}

// ObserveOperation records one engine operation. Its signature matches
// engine.Options.Observe.
func (m *Metrics) ObserveOperation(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, ResultLabel(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted(jobType string) {
	if m == nil {
		return
	}
	m.jobsActive.Inc()
}

// JobFinished records the outcome of one job attempt.
func (m *Metrics) JobFinished(jobType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsActive.Dec()
	m.jobs.WithLabelValues(jobType, outcome).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// JobsEnqueued counts jobs added to the queue.
func (m *Metrics) JobsEnqueued(jobType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobsEnqueued.WithLabelValues(jobType).Add(float64(n))
}

// ObserveNotification records a notification delivery outcome.
func (m *Metrics) ObserveNotification(kind models.NotificationKind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveCacheLookup records a catalog cache hit or miss.
func (m *Metrics) ObserveCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
