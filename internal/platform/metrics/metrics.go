// Package metrics registers the Prometheus metrics of the audit pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the audit pipeline.
type Metrics struct {
	QueueDepth     prometheus.Gauge
	WorkerActive   prometheus.Gauge
	TasksCompleted prometheus.Counter
	TaskFailures   prometheus.Counter
	LogsProcessed  prometheus.Counter
	LogsFailed     prometheus.Counter
	Notifications  prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_audit_queue_depth",
			Help: "Number of dispatch requests waiting in the audit queue",
		}),
		WorkerActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_audit_worker_active",
			Help: "Whether the audit queue worker is currently processing (0 or 1)",
		}),
		TasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_tasks_completed_total",
			Help: "Total dispatch tasks completed by the audit queue worker",
		}),
		TaskFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_task_failures_total",
			Help: "Total dispatch tasks that ended in error",
		}),
		LogsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_logs_processed_total",
			Help: "Total audit log groups processed successfully",
		}),
		LogsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_logs_failed_total",
			Help: "Total audit log groups that failed processing",
		}),
		Notifications: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_notifications_total",
			Help: "Total notifications generated from tracked changes",
		}),
	}
}
