// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_resolutions_total",
			Help: "Answers produced, by the backend tier that produced them",
		},
		[]string{"backend"},
	)

	TierFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_tier_failures_total",
			Help: "Backend tier attempts that failed and fell through",
		},
		[]string{"tier", "reason"},
	)

	AvailabilityProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_availability_probes_total",
			Help: "Local model availability probes, by result",
		},
		[]string{"result"},
	)

	NoticesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_wait_notices_total",
			Help: "Please-wait notices sent while an answer was pending",
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_deliveries_total",
			Help: "Async deliveries, by outcome (completed, abandoned)",
		},
		[]string{"outcome"},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_send_failures_total",
			Help: "Outbound channel sends that failed",
		},
		[]string{"channel"},
	)

	ExchangeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "helpdesk_exchange_latency_seconds",
			Help:    "Time from message arrival to answer ready",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	LogWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_log_write_failures_total",
			Help: "Exchange log rows that could not be stored",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)
)
