package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/cutout/internal/workpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	rateLimitRejected  *prometheus.CounterVec
	queueEnqueued      *prometheus.CounterVec
	processingTotal    *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
}

func newMetrics(pool *workpool.Pool) *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutout_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cutout_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutout_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutout_queue_jobs_enqueued_total",
			Help: "Total async jobs enqueued to the processing queue.",
		}, []string{"queue"}),
		processingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutout_processing_total",
			Help: "Synchronous image operations by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		processingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cutout_processing_duration_seconds",
			Help:    "Time spent reading, processing and encoding one image.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.processingTotal,
		m.processingDuration,
	)

	if pool != nil {
		registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "cutout_pool_workers",
				Help: "Configured worker pool size.",
			}, func() float64 { return float64(pool.Stats().Workers) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "cutout_pool_active",
				Help: "Pool workers currently running a task.",
			}, func() float64 { return float64(pool.Stats().Active) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "cutout_pool_queued",
				Help: "Tasks waiting for a pool worker.",
			}, func() float64 { return float64(pool.Stats().Queued) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "cutout_pool_abandoned_total",
				Help: "Tasks whose caller stopped waiting before they finished.",
			}, func() float64 { return float64(pool.Stats().Abandoned) }),
		)
	}
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeProcessing(endpoint string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = strconv.Itoa(classify(err).Status)
	}
	m.processingTotal.WithLabelValues(endpoint, outcome).Inc()
	m.processingDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/jobs/"):
		return "/v1/jobs/{id}"
	case path == "/v1/jobs":
		return "/v1/jobs"
	case knownRoutes[path]:
		return path
	default:
		return "other"
	}
}

var knownRoutes = map[string]bool{
	"/remove-background": true,
	"/process-image":     true,
	"/resize":            true,
	"/resize-crop":       true,
	"/convert-image":     true,
	"/xnresize":          true,
	"/crop-below-mouth":  true,
	"/models":            true,
	"/health":            true,
	"/test-image":        true,
	"/metrics":           true,
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
