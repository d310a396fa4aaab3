package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	invocationsTotal     *prometheus.CounterVec
	invocationDuration   *prometheus.HistogramVec
	activeInvocations    prometheus.Gauge
	derivativesTotal     *prometheus.CounterVec
	derivativeBytesTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webpmill_worker_invocations_total",
			Help: "Total pipeline invocations by final status.",
		}, []string{"status"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webpmill_worker_invocation_duration_seconds",
			Help:    "Total processing duration for each pipeline invocation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeInvocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webpmill_worker_active_invocations",
			Help: "Current number of active pipeline invocations in the worker.",
		}),
		derivativesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webpmill_worker_derivatives_total",
			Help: "Total derivative targets by per-target outcome.",
		}, []string{"status"}),
		derivativeBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webpmill_worker_derivative_bytes_total",
			Help: "Total bytes of derivative content written to the object store.",
		}),
	}

	registry.MustRegister(
		m.invocationsTotal,
		m.invocationDuration,
		m.activeInvocations,
		m.derivativesTotal,
		m.derivativeBytesTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
