package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for drapo.
// Using promauto for automatic registration with default registry.
var (
	// --- Flow Metrics ---

	// FlowRunsTotal counts completed flow runs by result.
	FlowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drapo",
			Subsystem: "flows",
			Name:      "runs_total",
			Help:      "Total number of flow runs by result",
		},
		[]string{"flow", "result"},
	)

	// FlowDuration tracks wall time of a flow run including the gate wait.
	FlowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drapo",
			Subsystem: "flows",
			Name:      "duration_seconds",
			Help:      "Duration of flow runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16), // 0.1s to ~1.8h
		},
		[]string{"flow"},
	)

	// FlowsRunning is 1 while a flow is executing.
	FlowsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "drapo",
			Subsystem: "flows",
			Name:      "running",
			Help:      "Number of flows currently executing",
		},
	)

	// --- Step Metrics ---

	// StepsTotal counts step outcomes.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drapo",
			Subsystem: "steps",
			Name:      "total",
			Help:      "Total number of executed steps by job type and outcome",
		},
		[]string{"job_type", "status"},
	)

	// StepDuration tracks step execution duration.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drapo",
			Subsystem: "steps",
			Name:      "duration_seconds",
			Help:      "Duration of steps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"step", "status"},
	)

	// --- Gate Metrics ---

	// GateProbesTotal counts reachability probes.
	GateProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drapo",
			Subsystem: "gate",
			Name:      "probes_total",
			Help:      "Total number of reachability probes by result",
		},
		[]string{"flow", "result"},
	)

	// --- Scheduler Metrics ---

	// TriggersTotal counts triggers enqueued by source.
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drapo",
			Subsystem: "scheduler",
			Name:      "triggers_total",
			Help:      "Total number of flow triggers enqueued by source",
		},
		[]string{"source"},
	)

	// DispatchLag measures delay between a trigger being enqueued and its run starting.
	DispatchLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "drapo",
			Subsystem: "scheduler",
			Name:      "dispatch_lag_seconds",
			Help:      "Delay between trigger creation and flow start",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
	)

	// ArchiveFailures counts transcripts that could not be archived.
	ArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "drapo",
			Subsystem: "archive",
			Name:      "failures_total",
			Help:      "Total number of run transcripts that failed to archive",
		},
	)
)

// RecordFlow records metrics for a completed flow run.
func RecordFlow(flow, result string, durationSeconds float64) {
	FlowRunsTotal.WithLabelValues(flow, result).Inc()
	FlowDuration.WithLabelValues(flow).Observe(durationSeconds)
}

// RecordStep records metrics for a completed step.
func RecordStep(step, jobType, status string, durationSeconds float64) {
	StepsTotal.WithLabelValues(jobType, status).Inc()
	StepDuration.WithLabelValues(step, status).Observe(durationSeconds)
}

// RecordProbe records one gate probe.
func RecordProbe(flow string, reachable bool) {
	result := "unreachable"
	if reachable {
		result = "reachable"
	}
	GateProbesTotal.WithLabelValues(flow, result).Inc()
}

// RecordTrigger records a trigger being enqueued.
func RecordTrigger(source string) {
	TriggersTotal.WithLabelValues(source).Inc()
}

// RecordDispatch records a trigger being picked up.
func RecordDispatch(lagSeconds float64) {
	DispatchLag.Observe(lagSeconds)
}
