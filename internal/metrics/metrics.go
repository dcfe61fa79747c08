// Package metrics provides Prometheus metrics for Herald.
// It tracks segment materialization, campaign execution, the job queue and
// the receipt pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "herald"
)

// Segment metrics track rule compilation and membership calculation.
var (
	// SegmentRecalculationsTotal counts membership recalculations.
	SegmentRecalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_recalculations_total",
			Help:      "Total number of segment membership recalculations",
		},
		[]string{"type", "result"}, // result: success, failure
	)

	// SegmentRecalculationLatency measures the time to evaluate a segment.
	SegmentRecalculationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_recalculation_latency_seconds",
			Help:      "Time to evaluate a segment's rules in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// SegmentSize tracks the number of members found per recalculation.
	SegmentSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_size",
			Help:      "Number of contacts matched per segment recalculation",
			Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000, 1000000},
		},
	)

	// RuleCompileWarningsTotal counts rule conditions dropped at compile time.
	RuleCompileWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_compile_warnings_total",
			Help:      "Total number of rule conditions dropped during compilation",
		},
		[]string{"kind"},
	)
)

// Campaign metrics track the execution state machine.
var (
	// CampaignTransitionsTotal counts campaign status changes.
	CampaignTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_transitions_total",
			Help:      "Total number of campaign status transitions",
		},
		[]string{"from", "to"},
	)

	// ExecutionsCreatedTotal counts executions created when a campaign starts.
	ExecutionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_created_total",
			Help:      "Total number of campaign executions created",
		},
		[]string{"channel"},
	)

	// DeliveriesTotal counts delivery attempts by outcome.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of message delivery attempts",
		},
		[]string{"channel", "status"}, // status: sent, failed, skipped
	)

	// DeliveryLatency measures the time spent in the channel sender.
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Time to hand a message to the channel provider in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

// Job metrics track the delayed job queue.
var (
	// JobsEnqueuedTotal counts jobs added to the queue.
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		},
		[]string{"name"},
	)

	// JobsProcessedTotal counts handled jobs by result.
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed",
		},
		[]string{"name", "result"}, // result: success, retry, dead
	)

	// JobLatency measures how late a job started relative to its due time.
	JobLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_start_delay_seconds",
			Help:      "Time between a job becoming due and a worker picking it up in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"name"},
	)
)

// Receipt metrics track the delivery receipt pipeline.
var (
	// ReceiptsReceivedTotal counts receipts accepted by the webhook.
	ReceiptsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_received_total",
			Help:      "Total number of delivery receipts received",
		},
		[]string{"status"},
	)

	// ReceiptsAppliedTotal counts receipts processed against executions.
	ReceiptsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_applied_total",
			Help:      "Total number of delivery receipts processed",
		},
		[]string{"status", "result"}, // result: applied, unknown, rejected, error
	)

	// ReceiptPublishLatency measures time to publish a receipt to the stream.
	ReceiptPublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receipt_publish_latency_seconds",
			Help:      "Time to publish a receipt to the stream in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)
)

// Storage metrics track database and cache operations.
var (
	// StorageOperationLatency measures latency of storage operations.
	StorageOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_latency_seconds",
			Help:      "Latency of storage operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"store", "operation"},
	)

	// StorageOperationsTotal counts storage operations.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"store", "operation", "status"}, // status: success, failure
	)
)

// ObserveStorage records one storage operation that began at start.
func ObserveStorage(store, operation string, start time.Time, err error) {
	StorageOperationLatency.WithLabelValues(store, operation).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "failure"
	}
	StorageOperationsTotal.WithLabelValues(store, operation, status).Inc()
}
