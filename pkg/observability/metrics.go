package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Domain metrics
	MembershipOperationsTotal *prometheus.CounterVec
	SyncStepsTotal            *prometheus.CounterVec
	PermissionResolutions     *prometheus.CounterVec
	NotificationsTotal        *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal prometheus.Counter

	// Scheduler metrics
	SchedulerJobRunsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsInUse     prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flock_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		MembershipOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_membership_operations_total",
				Help: "Community membership operations by outcome",
			},
			[]string{"operation", "status"},
		),
		SyncStepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_sync_steps_total",
				Help: "Community sync steps executed",
			},
			[]string{"kind", "step", "success"},
		),
		PermissionResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_permission_resolutions_total",
				Help: "Effective permission resolutions by source",
			},
			[]string{"source"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_notifications_total",
				Help: "Membership notifications dispatched",
			},
			[]string{"channel", "status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_cache_hits_total",
				Help: "Permission cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flock_cache_misses_total",
				Help: "Permission cache misses",
			},
		),

		SchedulerJobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flock_scheduler_job_runs_total",
				Help: "Scheduled job runs by outcome",
			},
			[]string{"job", "status"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flock_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flock_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flock_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flock_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MembershipOperationsTotal,
		m.SyncStepsTotal,
		m.PermissionResolutions,
		m.NotificationsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SchedulerJobRunsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// RecordDBStats publishes pool gauges from a database/sql snapshot
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// RecordMembership counts a membership operation outcome
func (m *Metrics) RecordMembership(operation string, err error) {
	if m == nil {
		return
	}
	m.MembershipOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
}

// RecordSyncStep counts one executed sync step
func (m *Metrics) RecordSyncStep(kind, step string, success bool) {
	if m == nil {
		return
	}
	m.SyncStepsTotal.WithLabelValues(kind, step, strconv.FormatBool(success)).Inc()
}

// RecordPermissionSource counts resolved permissions by origin
func (m *Metrics) RecordPermissionSource(source string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.PermissionResolutions.WithLabelValues(source).Add(float64(count))
}

// RecordNotification counts a dispatched membership notification
func (m *Metrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, statusLabel(err)).Inc()
}

// RecordCacheHit counts a cache hit on the given tier (l1 or l2)
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss counts a lookup that fell through to the database
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordJobRun counts a scheduler job run
func (m *Metrics) RecordJobRun(job string, err error) {
	if m == nil {
		return
	}
	m.SchedulerJobRunsTotal.WithLabelValues(job, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their mux route template to keep cardinality
// bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
