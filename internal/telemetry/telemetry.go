// Package telemetry holds the Prometheus registry and collectors this
// service exposes. The collectors are updated by the scheduler and the
// pipelines it drives; serving them over /metrics is the out-of-scope
// HTTP layer's job — promhttp.HandlerFor(Registry.Gatherer(), ...) is all it
// would take.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a dedicated Prometheus registry (not the global default,
// so tests can build their own without colliding) plus the fixed set of
// collectors this service's background jobs update.
type Registry struct {
	reg *prometheus.Registry

	JobRuns     *prometheus.CounterVec
	JobFailures *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	GapsDetected      *prometheus.CounterVec
	RecordsIngested   *prometheus.CounterVec
	RecordsBackfilled *prometheus.CounterVec
}

// New builds a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chocofactory_job_runs_total",
			Help: "Number of scheduler job runs, by job name.",
		}, []string{"job"}),
		JobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chocofactory_job_failures_total",
			Help: "Number of scheduler job runs that returned an error, by job name.",
		}, []string{"job"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chocofactory_job_duration_seconds",
			Help:    "Duration of scheduler job runs, by job name.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		GapsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chocofactory_gaps_detected_total",
			Help: "Number of time-series gaps detected, by measurement and severity.",
		}, []string{"measurement", "severity"}),
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chocofactory_records_ingested_total",
			Help: "Number of records written by the ingestion orchestrator, by measurement and source.",
		}, []string{"measurement", "source"}),
		RecordsBackfilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chocofactory_records_backfilled_total",
			Help: "Number of records written by the backfill engine, by measurement and source.",
		}, []string{"measurement", "source"}),
	}

	reg.MustRegister(r.JobRuns, r.JobFailures, r.JobDuration, r.GapsDetected, r.RecordsIngested, r.RecordsBackfilled)
	return r
}

// Gatherer exposes the underlying registry for a metrics HTTP handler to
// wrap, without leaking the registration methods this package owns.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
