package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	activeJobs      prometheus.Gauge
	outputBytes     prometheus.Counter
	overBudget      prometheus.Counter
	webhookFailures *prometheus.CounterVec
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
			Name: "imagetools_worker_jobs_total",
			Help: "Total worker tasks by output format and final status.",
		}, []string{"format", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagetools_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagetools_worker_active_jobs",
			Help: "Current number of images being processed by the worker.",
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetools_worker_output_bytes_total",
			Help: "Total bytes of processed images written by the worker.",
		}),
		overBudget: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagetools_worker_over_budget_total",
			Help: "Processed images whose size budget could not be met at minimum quality.",
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagetools_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.outputBytes,
		m.overBudget,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
