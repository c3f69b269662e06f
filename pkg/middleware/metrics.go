package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/sessionbridge/pkg/auth"
	"github.com/vango-dev/sessionbridge/pkg/guard"
	"github.com/vango-dev/sessionbridge/pkg/session"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "sessionbridge").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "sessionbridge",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors. It implements the observer interfaces of
// the refresh, guard, ssr and live packages, so one value can be handed to
// each of them.
type Metrics struct {
	refreshTotal     *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	refreshCoalesced *prometheus.CounterVec
	profileReads     *prometheus.CounterVec
	guardDecisions   *prometheus.CounterVec
	bootstrapTotal   *prometheus.CounterVec
	bootstrapLatency prometheus.Histogram
	openPages        prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors.
//
// Metrics collected:
//   - sessionbridge_refresh_total: refreshes by context and outcome
//   - sessionbridge_refresh_duration_seconds: refresh latency by context
//   - sessionbridge_refresh_coalesced_total: callers that joined an in-flight refresh
//   - sessionbridge_profile_reads_total: profile reads after a refresh, by result
//   - sessionbridge_guard_decisions_total: guard decisions by guard, action and refresh
//   - sessionbridge_bootstrap_total: SSR bootstrap outcomes
//   - sessionbridge_bootstrap_duration_seconds: SSR bootstrap latency
//   - sessionbridge_live_pages: open live pages
//   - sessionbridge_http_requests_total: requests by route, method and status class
//   - sessionbridge_http_request_duration_seconds: request latency by route
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		refreshTotal:     counter("refresh_total", "Total token refreshes by execution context and outcome", "exec", "outcome"),
		refreshCoalesced: counter("refresh_coalesced_total", "Callers that shared an in-flight refresh", "exec"),
		profileReads:     counter("profile_reads_total", "Profile reads following a refresh", "result"),
		guardDecisions:   counter("guard_decisions_total", "Route guard decisions", "guard", "action", "refreshed"),
		bootstrapTotal:   counter("bootstrap_total", "SSR bootstrap outcomes", "outcome"),
		requestsTotal:    counter("http_requests_total", "Total HTTP requests", "route", "method", "status"),

		refreshDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "refresh_duration_seconds",
			Help:        "Token refresh duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"exec"}),

		bootstrapLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bootstrap_duration_seconds",
			Help:        "SSR bootstrap duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		openPages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "live_pages",
			Help:        "Number of open live page sessions",
			ConstLabels: config.ConstLabels,
		}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"route"}),
	}
}

// ObserveRefresh implements refresh.Observer.
func (m *Metrics) ObserveRefresh(exec session.Exec, kind auth.Kind, shared bool, elapsed time.Duration) {
	if shared {
		m.refreshCoalesced.WithLabelValues(exec.String()).Inc()
		return
	}
	m.refreshTotal.WithLabelValues(exec.String(), kind.String()).Inc()
	m.refreshDuration.WithLabelValues(exec.String()).Observe(elapsed.Seconds())
}

// ObserveProfileRead implements refresh.Observer.
func (m *Metrics) ObserveProfileRead(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.profileReads.WithLabelValues(result).Inc()
}

// ObserveDecision implements guard.Observer.
func (m *Metrics) ObserveDecision(name string, action guard.Action, refreshed bool) {
	if name == "" {
		name = "unnamed"
	}
	m.guardDecisions.WithLabelValues(name, action.String(), strconv.FormatBool(refreshed)).Inc()
}

// ObserveBootstrap implements ssr.Observer.
func (m *Metrics) ObserveBootstrap(outcome string, elapsed time.Duration) {
	m.bootstrapTotal.WithLabelValues(outcome).Inc()
	m.bootstrapLatency.Observe(elapsed.Seconds())
}

// ObservePages implements live.Observer.
func (m *Metrics) ObservePages(open int) {
	m.openPages.Set(float64(open))
}

// Handler records request counts and latency. Requests are labelled with the
// chi route pattern rather than the raw path to keep cardinality bounded.
func (m *Metrics) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := routePattern(r)
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(route, r.Method, statusClass(sw.status)).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusClass prevents high-cardinality labels from status codes.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets the live handler upgrade connections behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return h.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
