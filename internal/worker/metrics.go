package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	outputBytesTotal prometheus.Counter
	pixelsTotal      prometheus.Counter
	webhookFailures  prometheus.Counter
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
			Name: "cutout_worker_jobs_total",
			Help: "Total worker job attempts by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cutout_worker_job_duration_seconds",
			Help:    "Processing duration of each worker job attempt.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cutout_worker_active_jobs",
			Help: "Current number of active processing jobs in the worker.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutout_worker_output_bytes_total",
			Help: "Total encoded bytes written to object storage.",
		}),
		pixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutout_worker_output_pixels_total",
			Help: "Total output pixels produced by successful jobs.",
		}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutout_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputBytesTotal,
		m.pixelsTotal,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
