// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCyclesTotal tracks sync cycles by mode and status
	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Total number of sync cycles by mode and status",
		},
		[]string{"mode", "status"},
	)

	// SyncCycleDuration tracks sync cycle duration in seconds
	SyncCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycles in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	// SyncPagesTotal tracks fetched pages
	SyncPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "pages_total",
			Help:      "Total number of sync pages applied",
		},
	)

	// RecordsAppliedTotal tracks applied remote records by kind and outcome
	RecordsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "apply",
			Name:      "records_total",
			Help:      "Total number of remote records processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// RelationshipsResolvedTotal tracks resolver outcomes
	RelationshipsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolver",
			Name:      "fields_total",
			Help:      "Total number of relationship fields by resolution outcome",
		},
		[]string{"outcome"},
	)

	// DurableEdges tracks the size of the durable relationship graph
	DurableEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "relationships",
			Name:      "edges",
			Help:      "Number of edges in the durable relationship graph",
		},
	)

	// HTTPRequestsTotal tracks outbound requests to the content source
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// KafkaMessagesPublished tracks change events published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// SchedulerLockContention tracks skipped scheduled syncs because another instance held the lock
	SchedulerLockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "lock_contention_total",
			Help:      "Total number of scheduled syncs skipped because the lock was held",
		},
	)

	// APIRequestsTotal tracks requests served by the HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests served",
		},
		[]string{"method", "route", "status_code"},
	)

	// APIRequestDuration tracks API request latency
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
