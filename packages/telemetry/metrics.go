// Package telemetry exposes Prometheus metrics for project sessions.
//
// Metrics exported (namespace cartograph):
//
//   - cartograph_load_total: loads by result
//   - cartograph_load_duration_seconds: load latency, migration included
//   - cartograph_migration_steps_total: migration steps run, by step name
//   - cartograph_cache_lookups_total: snapshot cache lookups by result
//   - cartograph_save_total: saves by result
//   - cartograph_history_operations_total: execute/undo/redo by result
//
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cartograph"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
	// ResultEmpty is an undo or redo with nothing to do.
	ResultEmpty = "empty"
	ResultHit   = "hit"
	ResultMiss  = "miss"
)

// Metrics holds the session collectors.
type Metrics struct {
	LoadTotal         *prometheus.CounterVec
	LoadDuration      prometheus.Histogram
	MigrationSteps    *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	SaveTotal         *prometheus.CounterVec
	HistoryOperations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_total",
			Help:      "Project loads by result.",
		}, []string{"result"}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Time to load a project, including migration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		MigrationSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "steps_total",
			Help:      "Migration steps run, by step name.",
		}, []string{"step"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Snapshot cache lookups by result.",
		}, []string{"result"}),
		SaveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_total",
			Help:      "Project saves by result.",
		}, []string{"result"}),
		HistoryOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "operations_total",
			Help:      "Edit history operations by kind and result.",
		}, []string{"op", "result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.LoadTotal,
			m.LoadDuration,
			m.MigrationSteps,
			m.CacheLookups,
			m.SaveTotal,
			m.HistoryOperations,
		)
	}
	return m
}

// RecordLoad counts a load and, when it succeeded, its duration and migration steps.
func (m *Metrics) RecordLoad(d time.Duration, steps []string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LoadTotal.WithLabelValues(ResultError).Inc()
		return
	}
	m.LoadTotal.WithLabelValues(ResultOK).Inc()
	m.LoadDuration.Observe(d.Seconds())
	for _, s := range steps {
		m.MigrationSteps.WithLabelValues(s).Inc()
	}
}

// RecordCache counts a snapshot cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues(ResultHit).Inc()
	} else {
		m.CacheLookups.WithLabelValues(ResultMiss).Inc()
	}
}

// RecordSave counts a save.
func (m *Metrics) RecordSave(err error) {
	if m == nil {
		return
	}
	m.SaveTotal.WithLabelValues(result(err)).Inc()
}

// RecordHistory counts an execute, undo or redo. empty marks an undo or redo with
// nothing to do.
func (m *Metrics) RecordHistory(op string, empty bool, err error) {
	if m == nil {
		return
	}
	r := result(err)
	if empty {
		r = ResultEmpty
	}
	m.HistoryOperations.WithLabelValues(op, r).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
