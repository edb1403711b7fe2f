// Package metrics holds Prometheus collectors of dpservice and dpnode.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cmcf/autoprocess/pkg/domain"
)

const (
	namespace = "autoprocess"
)

var (
	// JobsSubmitted counts accepted submissions
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of accepted job submissions",
		},
		[]string{"kind"},
	)

	// Rejections counts requests refused by the dispatcher
	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Total number of refused dispatcher requests",
		},
		[]string{"op", "reason"},
	)

	// Assignments counts assignments made
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Total number of job assignments",
		},
		[]string{"node"},
	)

	// Reports counts stage reports by how they were applied
	Reports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Total number of stage reports",
		},
		[]string{"stage", "outcome"}, // outcome: advanced/completed/retrying/failed/discarded/ignored
	)

	// LeasesExpired counts assignments released by lease expiry
	LeasesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_expired_total",
			Help:      "Total number of assignments released on lease expiry",
		},
	)

	// JobsFinished counts jobs reaching a terminal stage
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs reaching done or failed",
		},
		[]string{"stage", "failure"},
	)

	// EngineDuration measures engine runs on nodes
	EngineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_duration_seconds",
			Help:      "Engine run time in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"stage", "result"}, // result: success/timeout/engine_error
	)

	// RunningStages tracks engine runs in progress on this node
	RunningStages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_stages",
			Help:      "Number of engine runs in progress",
		},
	)
)

func RecordSubmission(kind domain.JobKind) {
	JobsSubmitted.WithLabelValues(string(kind)).Inc()
}

func RecordRejection(op string, reason string) {
	Rejections.WithLabelValues(op, reason).Inc()
}

func RecordAssignment(nodeId string) {
	Assignments.WithLabelValues(nodeId).Inc()
}

func RecordReport(stage domain.Stage, outcome string) {
	Reports.WithLabelValues(string(stage), outcome).Inc()
}

func RecordLeaseExpiry() {
	LeasesExpired.Inc()
}

// RecordFinish records a job reaching a terminal stage.
func RecordFinish(st domain.PipelineState) {
	failure := ""
	if st.Failure != nil {
		failure = string(st.Failure.Kind)
	}
	JobsFinished.WithLabelValues(string(st.Stage), failure).Inc()
}

// RecordEngineRun records an engine run finished with result ("success" or a failure kind).
func RecordEngineRun(stage domain.Stage, result string, d time.Duration) {
	EngineDuration.WithLabelValues(string(stage), result).Observe(d.Seconds())
}
