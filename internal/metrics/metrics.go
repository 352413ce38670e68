// Package metrics registers the engine's Prometheus instruments. No HTTP
// exposition endpoint is wired here — scraping transport is left to the
// caller's registry of choice.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every gauge/counter/histogram the engine exports, grouped
// by the subsystem that updates them.
type Metrics struct {
	QueueDepth       *prometheus.GaugeVec
	RunningJobs      prometheus.Gauge
	GovernorMemoryGB prometheus.Gauge
	GovernorCPUPct   prometheus.Gauge

	JobsSubmittedTotal prometheus.Counter
	JobsCompletedTotal prometheus.Counter
	JobsFailedTotal    prometheus.Counter
	JobsCancelledTotal prometheus.Counter

	ChunksProcessedTotal    prometheus.Counter
	TranscribeRetriesTotal  prometheus.Counter
	DiarizeRetriesTotal     prometheus.Counter
	ChunksDroppedTotal      prometheus.Counter

	StageDuration *prometheus.HistogramVec
}

// New builds a Metrics instance and registers every instrument on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "transcribe_engine",
			Name:      "queue_depth",
			Help:      "Number of jobs waiting in the priority queue, by priority.",
		}, []string{"priority"}),
		RunningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcribe_engine",
			Name:      "running_jobs",
			Help:      "Number of jobs currently admitted and running.",
		}),
		GovernorMemoryGB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcribe_engine",
			Name:      "governor_memory_gb",
			Help:      "Memory currently pledged against the Governor's ceiling, in GB.",
		}),
		GovernorCPUPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcribe_engine",
			Name:      "governor_cpu_percent",
			Help:      "Last sampled system CPU utilization percentage.",
		}),
		JobsSubmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcribe_engine",
			Name:      "jobs_submitted_total",
			Help:      "Total jobs submitted.",
		}),
		JobsCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcribe_engine",
			Name:      "jobs_completed_total",
			Help:      "Total jobs that reached the Completed state.",
		}),
		JobsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcribe_engine",
			Name:      "jobs_failed_total",
			Help:      "Total jobs that reached the Failed state.",
		}),
		JobsCancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcribe_engine",
			Name:      "jobs_cancelled_total",
			Help:      "Total jobs cancelled before or during a run.",
		}),
		ChunksProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcribe_engine",
			Name:      "chunks_processed_total",
			Help:      "Total audio chunks produced by the Chunker across all jobs.",
		}),
		TranscribeRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcribe_engine",
			Name:      "transcribe_retries_total",
			Help:      "Total retry attempts issued by the Transcriber stage.",
		}),
		DiarizeRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcribe_engine",
			Name:      "diarize_retries_total",
			Help:      "Total retry attempts issued by the Diarizer stage.",
		}),
		ChunksDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "transcribe_engine",
			Name:      "chunks_dropped_total",
			Help:      "Total chunks that exhausted retries and were dropped from a transcript.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "transcribe_engine",
			Name:      "stage_duration_seconds",
			Help:      "Per-job wall-clock duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.QueueDepth,
		m.RunningJobs,
		m.GovernorMemoryGB,
		m.GovernorCPUPct,
		m.JobsSubmittedTotal,
		m.JobsCompletedTotal,
		m.JobsFailedTotal,
		m.JobsCancelledTotal,
		m.ChunksProcessedTotal,
		m.TranscribeRetriesTotal,
		m.DiarizeRetriesTotal,
		m.ChunksDroppedTotal,
		m.StageDuration,
	)

	return m
}

// ObserveSystemStatus updates the gauges derived from a SystemStatus-shaped
// snapshot. Takes plain values rather than an orchestrator type to avoid an
// import cycle between metrics and orchestrator.
func (m *Metrics) ObserveSystemStatus(queueDepth, runningJobs int, governorMemoryGB, governorCPUPercent float64) {
	m.QueueDepth.WithLabelValues("all").Set(float64(queueDepth))
	m.RunningJobs.Set(float64(runningJobs))
	m.GovernorMemoryGB.Set(governorMemoryGB)
	m.GovernorCPUPct.Set(governorCPUPercent)
}
