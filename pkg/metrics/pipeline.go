package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records metadata for dispatch sweeps and job runs.
type PipelineMetrics struct {
	runDuration  *prometheus.HistogramVec
	runOutcome   *prometheus.CounterVec
	sweepTotal   prometheus.Counter
	sweepErrors  prometheus.Counter
	dispatched   *prometheus.CounterVec
	stuckRuns    *prometheus.CounterVec
	eventsUpsert prometheus.Counter
	linesRebuilt prometheus.Counter
	reconFailed  prometheus.Counter
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_run_duration_seconds",
		Help:    "Duration of ingestion job runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_run_outcome_total",
		Help: "Terminal run states by job and status.",
	}, []string{"job", "status"})
	sweepTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_sweep_total",
		Help: "Dispatcher sweep cycles executed.",
	})
	sweepErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_sweep_errors_total",
		Help: "Dispatcher sweep cycles that reported at least one error.",
	})
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_runs_created_total",
		Help: "Runs created and enqueued by the dispatcher.",
	}, []string{"job"})
	stuckRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_stuck_runs_reclaimed_total",
		Help: "Stale running rows force-finalized as timeout.",
	}, []string{"job"})
	eventsUpsert := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "builder_events_upserted_total",
		Help: "Financial events created or updated by the builder.",
	})
	linesRebuilt := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "builder_lines_rebuilt_total",
		Help: "Raw lines whose events were deleted and rebuilt after a hash change.",
	})
	reconFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "builder_reconciliation_failures_total",
		Help: "Reports whose raw vs event totals diverged beyond tolerance.",
	})
	reg.MustRegister(runDuration, runOutcome, sweepTotal, sweepErrors, dispatched, stuckRuns, eventsUpsert, linesRebuilt, reconFailed)
	return &PipelineMetrics{
		runDuration:  runDuration,
		runOutcome:   runOutcome,
		sweepTotal:   sweepTotal,
		sweepErrors:  sweepErrors,
		dispatched:   dispatched,
		stuckRuns:    stuckRuns,
		eventsUpsert: eventsUpsert,
		linesRebuilt: linesRebuilt,
		reconFailed:  reconFailed,
	}
}

// ObserveRunDuration records the duration for the named job.
func (m *PipelineMetrics) ObserveRunDuration(job string, duration time.Duration) {
	if m == nil || m.runDuration == nil {
		return
	}
	m.runDuration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncRunOutcome increments the terminal-state counter for the named job.
func (m *PipelineMetrics) IncRunOutcome(job, status string) {
	if m == nil || m.runOutcome == nil {
		return
	}
	m.runOutcome.WithLabelValues(normalizeLabel(job), normalizeLabel(status)).Inc()
}

// IncSweep counts one dispatcher cycle.
func (m *PipelineMetrics) IncSweep() {
	if m == nil || m.sweepTotal == nil {
		return
	}
	m.sweepTotal.Inc()
}

// IncSweepError counts a cycle that reported errors.
func (m *PipelineMetrics) IncSweepError() {
	if m == nil || m.sweepErrors == nil {
		return
	}
	m.sweepErrors.Inc()
}

// IncDispatched counts a run created and enqueued for the named job.
func (m *PipelineMetrics) IncDispatched(job string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncStuckReclaimed counts a stale running row converted to timeout.
func (m *PipelineMetrics) IncStuckReclaimed(job string) {
	if m == nil || m.stuckRuns == nil {
		return
	}
	m.stuckRuns.WithLabelValues(normalizeLabel(job)).Inc()
}

// AddEventsUpserted counts events written by the builder.
func (m *PipelineMetrics) AddEventsUpserted(n int) {
	if m == nil || m.eventsUpsert == nil {
		return
	}
	m.eventsUpsert.Add(float64(n))
}

// AddLinesRebuilt counts hash-change rebuilds.
func (m *PipelineMetrics) AddLinesRebuilt(n int) {
	if m == nil || m.linesRebuilt == nil {
		return
	}
	m.linesRebuilt.Add(float64(n))
}

// IncReconFailed counts a reconciliation mismatch.
func (m *PipelineMetrics) IncReconFailed() {
	if m == nil || m.reconFailed == nil {
		return
	}
	m.reconFailed.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
