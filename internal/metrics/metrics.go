// Package metrics holds the pipeline counters exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "famtool"

var (
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "classifications_total",
			Help:      "Text records classified, by verdict and source kind.",
		},
		[]string{"category", "source"},
	)

	UploadsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "uploads_rejected_total",
			Help:      "Telemetry records removed after landing, by reason.",
		},
		[]string{"reason"},
	)

	SecondaryWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "secondary_write_failures_total",
			Help:      "Secondary writes that exhausted their retries and were dead-lettered.",
		},
	)

	PolicyDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "denials_total",
			Help:      "Policy gate denials, by reason.",
		},
		[]string{"reason"},
	)

	CommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "sent_total",
			Help:      "Remote commands appended to a device history.",
		},
		[]string{"command_type"},
	)

	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "runs_total",
			Help:      "Maintenance job runs, by job and outcome.",
		},
		[]string{"job", "outcome"},
	)

	TriggerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "runs_total",
			Help:      "Change-triggered handler invocations, by handler and outcome.",
		},
		[]string{"handler", "outcome"},
	)

	TriggerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "run_duration_seconds",
			Help:      "Change-triggered handler latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"handler"},
	)
)

// Outcome maps an error to the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
