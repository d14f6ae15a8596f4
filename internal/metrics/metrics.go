package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carbeez/backend/internal/model/outcome"
)

var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carbeez",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carbeez",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// DispatchTotal counts answered turns by route (canned or model).
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carbeez",
			Subsystem: "assistant",
			Name:      "dispatch_total",
			Help:      "Total dispatched user turns by route",
		},
		[]string{"route"},
	)

	DegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carbeez",
			Subsystem: "assistant",
			Name:      "degraded_total",
			Help:      "Results served in degraded mode by component and reason",
		},
		[]string{"component", "reason"},
	)

	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carbeez",
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Latency of calls to external APIs",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service", "status"},
	)
)

// RecordDegradation increments the degradation counter; nil is ignored.
func RecordDegradation(d *outcome.Degradation) {
	if d == nil {
		return
	}
	DegradedTotal.WithLabelValues(d.Component, string(d.Reason)).Inc()
}

// ObserveRemoteCall records the latency of an outbound call started at start.
func ObserveRemoteCall(service string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RemoteCallDuration.WithLabelValues(service, status).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and durations keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
