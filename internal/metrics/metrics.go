// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package metrics holds the Prometheus collectors of the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdfrelay"

// Collector owns a registry with every relay metric.
type Collector struct {
	registry *prometheus.Registry

	jobs      *prometheus.CounterVec
	steps     *prometheus.HistogramVec
	busSends  *prometheus.CounterVec
	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// New registers the relay metrics, along with the Go runtime and
// process collectors, on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of relay jobs by outcome",
			},
			[]string{"outcome"},
		),
		steps: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of the fetch and relay steps",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step", "result"},
		),
		busSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_sends_total",
				Help:      "Total number of telemetry records sent to the bus",
			},
			[]string{"topic", "result"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of inbound HTTP requests",
			},
			[]string{"method", "path", "status_class"},
		),
		durations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Inbound HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		Registry: c.registry,
	})
}

// RecordJob counts a finished job. Outcome is "success" or the error type.
func (c *Collector) RecordJob(outcome string) {
	c.jobs.WithLabelValues(outcome).Inc()
}

// ObserveStep records how long an orchestration step took.
func (c *Collector) ObserveStep(step string, d time.Duration, ok bool) {
	c.steps.WithLabelValues(step, result(ok)).Observe(d.Seconds())
}

// RecordBusSend counts a send to the bus.
func (c *Collector) RecordBusSend(topic string, ok bool) {
	c.busSends.WithLabelValues(topic, result(ok)).Inc()
}

// RecordRequest counts a committed inbound request.
func (c *Collector) RecordRequest(method, path string, status int, d time.Duration) {
	c.requests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.durations.WithLabelValues(method, path).Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
