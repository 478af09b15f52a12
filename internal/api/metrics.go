package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
	"github.com/sattu-dealer/Image-Tools/internal/pipeline"
)

// Metrics is created before the pipeline so ObserveSearch can be handed to
// the processor, then passed to NewServer.
type Metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	authRejected      prometheus.Counter
	queueEnqueued     *prometheus.CounterVec
	imagesProcessed   *prometheus.CounterVec
	searchProbes      *prometheus.HistogramVec
	searchOverBudget  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagetools_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		authRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetools_api_auth_rejections_total",
			Help: "Total API requests rejected for a missing or invalid token.",
		}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_queue_tasks_enqueued_total",
			Help: "Total processing tasks enqueued for the worker.",
		}, []string{"queue"}),
		imagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_images_processed_total",
			Help: "Images processed by output format and mode.",
		}, []string{"format", "mode"}),
		searchProbes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagetools_quality_search_probes",
			Help:    "Encodes issued per size-constrained quality search.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}, []string{"format"}),
		searchOverBudget: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_quality_search_over_budget_total",
			Help: "Quality searches that could not meet the size budget.",
		}, []string{"format"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.authRejected,
		m.queueEnqueued,
		m.imagesProcessed,
		m.searchProbes,
		m.searchOverBudget,
	)
	return m
}

// ObserveSearch has the pipeline.SearchObserver signature.
func (m *Metrics) ObserveSearch(format domain.Format, result pipeline.SearchResult) {
	m.searchProbes.WithLabelValues(string(format)).Observe(float64(result.Probes))
	if !result.WithinBudget {
		m.searchOverBudget.WithLabelValues(string(format)).Inc()
	}
}

func (m *Metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) withHTTPMetrics(next http.Handler) http.Handler {
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
	case path == "/v1/images/async":
		return "/v1/images/async"
	case strings.HasPrefix(path, "/v1/images/"):
		return "/v1/images/{id}"
	case strings.HasPrefix(path, "/v1/images"):
		return "/v1/images"
	case strings.HasPrefix(path, "/processed/"):
		return "/processed/{fileName}"
	case strings.HasPrefix(path, "/healthz"):
		return "/healthz"
	case strings.HasPrefix(path, "/metrics"):
		return "/metrics"
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
