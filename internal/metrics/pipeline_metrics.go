package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All labels are bounded enums; no plates or serials.

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curbside_runs_total",
			Help: "Finished pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	AdmissionRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curbside_admission_rejections_total",
			Help: "Alerts rejected before a run started",
		},
		[]string{"reason"},
	)

	RunAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "curbside_run_attempts",
			Help:    "Snapshot attempts used per run",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "curbside_run_duration_seconds",
			Help:    "Wall time of admitted runs, settle delay included",
			Buckets: []float64{5, 10, 15, 20, 30, 45, 60, 90, 120},
		},
	)

	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curbside_provider_errors_total",
			Help: "Provider failures by pipeline stage and code",
		},
		[]string{"stage", "code"},
	)

	NotificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curbside_notification_failures_total",
			Help: "Webex posts that failed",
		},
		[]string{"outcome"},
	)

	DetectionWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "curbside_detection_write_failures_total",
			Help: "Detections that could not be persisted",
		},
	)

	CardActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curbside_card_actions_total",
			Help: "Card button presses by action and result",
		},
		[]string{"action", "result"},
	)

	RunInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curbside_run_in_progress",
			Help: "1 while a run holds the guard",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curbside_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

func RecordRun(outcome string, attempts int, seconds float64) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunAttempts.Observe(float64(attempts))
	RunDuration.Observe(seconds)
}

func RecordRejection(reason string) {
	AdmissionRejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordProviderError(stage, code string) {
	if code == "" {
		code = "unknown"
	}
	ProviderErrorsTotal.WithLabelValues(stage, code).Inc()
}

func RecordNotificationFailure(outcome string) {
	NotificationFailuresTotal.WithLabelValues(outcome).Inc()
}

func RecordDetectionWriteFailure() {
	DetectionWriteFailuresTotal.Inc()
}

func RecordCardAction(action, result string) {
	CardActionsTotal.WithLabelValues(action, result).Inc()
}

func SetRunInProgress(active bool) {
	if active {
		RunInProgress.Set(1)
	} else {
		RunInProgress.Set(0)
	}
}
