package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of inbound webhook requests",
		},
		[]string{"path", "outcome"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_rejected_total",
			Help: "Total number of events rejected by the admission filter",
		},
		[]string{"reason"},
	)

	EventsAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_admitted_total",
			Help: "Total number of events admitted for processing",
		},
	)

	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denials_total",
			Help: "Total number of operations denied by the quota gate",
		},
		[]string{"operation"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of deferred tasks completed",
		},
		[]string{"task_type"},
	)

	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of deferred tasks failed",
		},
		[]string{"task_type", "error_code"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "task_duration_seconds",
			Help: "Duration of deferred task processing in seconds",
		},
		[]string{"task_type"},
	)

	TasksActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_active",
			Help: "Number of active deferred tasks per type",
		},
		[]string{"task_type"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Total number of Slack delivery attempts",
		},
		[]string{"kind", "outcome"},
	)
)
