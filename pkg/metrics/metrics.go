package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Total number of scheduler runs (count)",
		},
		[]string{"status"},
	)

	SchedulerRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_ms",
			Help:    "Duration of a full scheduler run in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	SchedulerDueEnrollments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_due_enrollments",
			Help: "Due enrollments picked up by the most recent run (count)",
		},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total messages handed to the provider (count)",
		},
		[]string{"status"},
	)

	EnrollmentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_transitions_total",
			Help: "Enrollment state transitions applied by the scheduler (count)",
		},
		[]string{"to_status"},
	)

	BatchSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_batch_send_duration_ms",
			Help:    "Provider batch send call duration in milliseconds",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"status"},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook events received (count)",
		},
		[]string{"type", "status"},
	)

	WebhookProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_ms",
			Help:    "Webhook reconciliation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"type"},
	)

	SuppressionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suppressions_created_total",
			Help: "Suppressions created (count)",
		},
		[]string{"reason", "scope"},
	)

	EnrollmentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollments_created_total",
			Help: "Enrollment creation requests (count)",
		},
		[]string{"outcome"},
	)

	UnprocessedWebhookEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_events_unprocessed",
			Help: "Webhook events persisted but not yet processed (count)",
		},
	)
)

func RegisterSchedulerMetrics() {
	prometheus.MustRegister(
		SchedulerRunsTotal,
		SchedulerRunDuration,
		SchedulerDueEnrollments,
		MessagesSentTotal,
		EnrollmentTransitionsTotal,
		BatchSendDuration,
	)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(
		WebhookEventsTotal,
		WebhookProcessingDuration,
		SuppressionsCreatedTotal,
		EnrollmentsCreatedTotal,
		UnprocessedWebhookEvents,
	)
}

func ObserveSchedulerRun(duration time.Duration, status string) {
	SchedulerRunsTotal.WithLabelValues(status).Inc()
	SchedulerRunDuration.Observe(float64(duration.Milliseconds()))
}

func ObserveBatchSend(duration time.Duration, status string) {
	BatchSendDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveWebhook(eventType string, duration time.Duration, status string) {
	WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
	WebhookProcessingDuration.WithLabelValues(eventType).Observe(float64(duration.Milliseconds()))
}
