package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the change log
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge

	// Audit store metrics
	EntriesAppendedTotal *prometheus.CounterVec
	StoreQueryDuration   *prometheus.HistogramVec
	StoreErrorsTotal     *prometheus.CounterVec

	// Stats cache metrics
	StatsCacheHitsTotal   *prometheus.CounterVec
	StatsCacheMissesTotal *prometheus.CounterVec

	// Retention metrics
	RetentionRunsTotal   *prometheus.CounterVec
	EntriesPurgedTotal   prometheus.Counter
	EntriesArchivedTotal prometheus.Counter
	RetentionLastRunUnix prometheus.Gauge

	// Analytics metrics
	AnalyticsQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changelog_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "changelog_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "changelog_http_requests_in_flight",
				Help: "Number of HTTP requests being served",
			},
		),

		EntriesAppendedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changelog_entries_appended_total",
				Help: "Total number of audit entries appended",
			},
			[]string{"operation"},
		),
		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "changelog_store_query_duration_seconds",
				Help:    "Audit store query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "backend"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changelog_store_errors_total",
				Help: "Total number of audit store faults",
			},
			[]string{"operation", "backend"},
		),

		StatsCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changelog_stats_cache_hits_total",
				Help: "Total number of stats cache hits",
			},
			[]string{"cache_type"},
		),
		StatsCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changelog_stats_cache_misses_total",
				Help: "Total number of stats cache misses",
			},
			[]string{"cache_type"},
		),

		RetentionRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changelog_retention_runs_total",
				Help: "Total number of retention purge runs",
			},
			[]string{"status"},
		),
		EntriesPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "changelog_entries_purged_total",
				Help: "Total number of audit entries removed by retention",
			},
		),
		EntriesArchivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "changelog_entries_archived_total",
				Help: "Total number of audit entries archived before purge",
			},
		),
		RetentionLastRunUnix: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "changelog_retention_last_run_timestamp_seconds",
				Help: "Unix time of the last successful retention run",
			},
		),

		AnalyticsQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "changelog_analytics_query_duration_seconds",
				Help:    "Analytics computation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPInFlight,
		m.EntriesAppendedTotal,
		m.StoreQueryDuration,
		m.StoreErrorsTotal,
		m.StatsCacheHitsTotal,
		m.StatsCacheMissesTotal,
		m.RetentionRunsTotal,
		m.EntriesPurgedTotal,
		m.EntriesArchivedTotal,
		m.RetentionLastRunUnix,
		m.AnalyticsQueryDuration,
	)

	return m
}

// ObserveStoreQuery records the duration of a store call and counts failures
func (m *Metrics) ObserveStoreQuery(operation, backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreQueryDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
	if err != nil {
		m.StoreErrorsTotal.WithLabelValues(operation, backend).Inc()
	}
}

// ObserveAnalytics records the duration of an analytics computation
func (m *Metrics) ObserveAnalytics(query string, start time.Time) {
	if m == nil {
		return
	}
	m.AnalyticsQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelling them by route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			metrics.HTTPInFlight.Inc()
			defer metrics.HTTPInFlight.Dec()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routeTemplate keeps path parameters out of label values
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint exposes registry on /metrics
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
