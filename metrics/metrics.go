/*
Package metrics exposes Prometheus instrumentation for the engine.

PURPOSE:
  Counters and histograms for workflow operations. Registered with the
  default registry via promauto and served on /metrics by the API router.

SEE ALSO:
  - api/server.go: Mounts the /metrics handler
  - api/handlers.go: Calls ObserveWorkflow after each operation
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowOperationsTotal counts workflow operations by name and outcome.
	WorkflowOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsengine_workflow_operations_total",
			Help: "Total number of workflow operations",
		},
		[]string{"operation", "outcome"},
	)

	// WorkflowDuration records how long each workflow operation takes.
	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsengine_workflow_duration_seconds",
			Help:    "Duration of workflow operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// AuditAppendFailures counts best-effort audit appends that were dropped.
	AuditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsengine_audit_append_failures_total",
			Help: "Total number of audit entries that failed to append",
		},
	)

	// EventsPublishedTotal counts post-commit events by type.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsengine_events_published_total",
			Help: "Total number of domain events published",
		},
		[]string{"type"},
	)
)

// ObserveWorkflow records the outcome of one workflow operation.
func ObserveWorkflow(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	WorkflowOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// TrackWorkflow returns a function that records the operation's duration.
func TrackWorkflow(operation string) func() {
	start := time.Now()
	return func() {
		WorkflowDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
