// Package middleware provides the observability layer: Prometheus
// collectors that double as the refresh, guard, bootstrap and live page
// observers, and OpenTelemetry request tracing.
//
// # Prometheus Metrics
//
//	m := middleware.NewMetrics(middleware.WithRegistry(reg))
//	orch := refresh.New(rc, refresh.WithObserver(m))
//	r.Use(m.Handler)
//	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # OpenTelemetry
//
//	r.Use(middleware.OpenTelemetry(
//	    middleware.WithRequestFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/healthz"
//	    }),
//	))
//
// The request span is stored in the request context, so refresh and guard
// spans started by downstream handlers become its children.
package middleware
