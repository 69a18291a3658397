package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics
var (
	TasksPolledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_tasks_polled_total",
			Help: "Total number of tasks received from the coordination server",
		},
	)

	TasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_tasks_processed_total",
			Help: "Total number of tasks executed",
		},
		[]string{"status"}, // sent, failed
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_queue_depth",
			Help: "Number of tasks currently held in the in-memory queue",
		},
	)

	PollErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_poll_errors_total",
			Help: "Total number of failed poll requests",
		},
	)
)

// Executor metrics
var (
	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_send_duration_seconds",
			Help:    "Duration of SMTP delivery attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	OAuthRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_oauth_refresh_total",
			Help: "Total number of OAuth2 access token refreshes",
		},
		[]string{"result"}, // success, failure
	)
)

// Reporter metrics
var (
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_reports_total",
			Help: "Total number of result report batches",
		},
		[]string{"status"}, // delivered, lost
	)

	ReportRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_report_retries_total",
			Help: "Total number of report attempt retries",
		},
	)
)

// Health metrics
var (
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_heartbeats_total",
			Help: "Total number of health heartbeats sent",
		},
		[]string{"status"}, // ok, error
	)
)
