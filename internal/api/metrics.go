package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	throttled     *prometheus.CounterVec
	rendersQueued *prometheus.CounterVec
	framesServed  *prometheus.CounterVec
	frameBytes    *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flagbooth",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by route and status class.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flagbooth",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flagbooth",
			Subsystem: "api",
			Name:      "rate_limit_rejections_total",
			Help:      "Booth requests rejected by the rate limiter.",
		}, []string{"route"}),
		rendersQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flagbooth",
			Subsystem: "api",
			Name:      "renders_enqueued_total",
			Help:      "Render jobs handed to the worker queue.",
		}, []string{"format", "phase"}),
		framesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flagbooth",
			Subsystem: "api",
			Name:      "frames_served_total",
			Help:      "Frame overlays served.",
		}, []string{"format", "pairing"}),
		frameBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flagbooth",
			Subsystem: "api",
			Name:      "frame_png_bytes",
			Help:      "Encoded size of served frame overlays.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 8),
		}, []string{"format"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.throttled,
		m.rendersQueued,
		m.framesServed,
		m.frameBytes,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeOf(r)
		m.requests.WithLabelValues(r.Method, route, statusClass(recorder.status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusClass buckets a status code as "2xx", "4xx" and so on.
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func pairingLabel(knockout bool) string {
	if knockout {
		return "knockout"
	}
	return "group"
}

// routeOf prefers the pattern the mux matched. Requests that never reached
// the mux fall back to routeLabel.
func routeOf(r *http.Request) string {
	if r.Pattern != "" {
		if _, path, ok := strings.Cut(r.Pattern, " "); ok {
			return path
		}
		return r.Pattern
	}
	return routeLabel(r.URL.Path)
}

// routeLabel maps a raw path onto its route template.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/renders/") && strings.HasSuffix(path, "/start"):
		return "/v1/renders/{id}/start"
	case strings.HasPrefix(path, "/v1/renders/"):
		return "/v1/renders/{id}"
	case path == "/v1/renders":
		return "/v1/renders"
	case strings.HasPrefix(path, "/v1/frames/"):
		return "/v1/frames/{location}/{format}"
	case path == "/v1/locations", path == "/healthz", path == "/metrics":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
