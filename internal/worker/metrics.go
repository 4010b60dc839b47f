package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry            *prometheus.Registry
	jobsTotal           *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	activeJobs          prometheus.Gauge
	outputsTotal        prometheus.Counter
	pixelsRenderedTotal prometheus.Counter
	outputBytesTotal    prometheus.Counter
	computeTimeMSTotal  prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagbooth_worker_renders_total",
			Help: "Total render jobs by frame format and final status.",
		}, []string{"format", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flagbooth_worker_render_duration_seconds",
			Help:    "Fetch, composite and emit duration of each render job.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"format", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagbooth_worker_active_renders",
			Help: "Render jobs currently holding a compositing slot.",
		}),
		outputsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagbooth_worker_outputs_total",
			Help: "Framed images and thumbnails emitted by the worker.",
		}),
		pixelsRenderedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagbooth_render_pixels_total",
			Help: "Pixels written across all successful renders.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagbooth_render_output_bytes_total",
			Help: "Encoded bytes written across all successful renders.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagbooth_render_compute_time_ms_total",
			Help: "Compute time in milliseconds across successful renders.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputsTotal,
		m.pixelsRenderedTotal,
		m.outputBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
