// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

package occurrent

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsNamespace = "occurrent"
	metricsSubsystem = "store"
)

// Metrics holds the Prometheus instruments a Store or Subscribable
// implementation reports against, grounded on the teacher's
// metrics.NewPrometheusMetricsBuilder wiring in its eventer constructor:
// a handful of counters registered once against a caller-
// supplied registerer, rather than relying on promauto's global default.
type Metrics struct {
	EventsWritten     prometheus.Counter
	WriteFailures     *prometheus.CounterVec
	EventsDelivered   prometheus.Counter
	LeaseAcquireTotal *prometheus.CounterVec
	LeaseLostTotal    prometheus.Counter
}

// NewMetrics builds and registers a Metrics against reg. Safe to call
// with prometheus.NewRegistry() in tests, or prometheus.DefaultRegisterer in
// a long-running process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "events_written_total",
			Help:      "Total number of events successfully appended to a stream.",
		}),
		WriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "write_failures_total",
			Help:      "Total number of rejected Write calls, labeled by reason.",
		}, []string{"reason"}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "subscription",
			Name:      "events_delivered_total",
			Help:      "Total number of events delivered to subscription actions.",
		}),
		LeaseAcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "lease_acquire_total",
			Help:      "Total number of lease acquisition attempts, labeled by outcome.",
		}, []string{"outcome"}),
		LeaseLostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "coordinator",
			Name:      "lease_lost_total",
			Help:      "Total number of times a held competing-consumer lease was lost on refresh.",
		}),
	}
	reg.MustRegister(m.EventsWritten, m.WriteFailures, m.EventsDelivered, m.LeaseAcquireTotal, m.LeaseLostTotal)
	return m
}

// NopMetrics returns a Metrics registered against a private registry, for
// callers that want the interface satisfied without reporting anywhere.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
