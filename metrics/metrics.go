// Package metrics exposes Prometheus counters for step transitions,
// checkpoints, rollbacks and file reverts.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally:
//
//	registry := prometheus.NewRegistry()
//	m := metrics.New(registry)
//	tr := tracker.New(store, tracker.Options{Metrics: m})
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TisoneK/agentfile-sub000/state"
)

const namespace = "agentfile"

// Metrics holds the collectors for one registry.
type Metrics struct {
	stepTransitions    *prometheus.CounterVec
	checkpointsCreated prometheus.Counter
	checkpointsDeleted prometheus.Counter
	rollbacks          *prometheus.CounterVec
	filesReverted      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// the collectors unregistered, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_transitions_total",
			Help:      "Step status transitions recorded, by resulting status.",
		}, []string{"status"}),
		checkpointsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_created_total",
			Help:      "Checkpoints written.",
		}),
		checkpointsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_deleted_total",
			Help:      "Checkpoints deleted.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks performed, by outcome.",
		}, []string{"status"}),
		filesReverted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_reverts_total",
			Help:      "Journaled file changes reverted, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.stepTransitions,
		m.checkpointsCreated,
		m.checkpointsDeleted,
		m.rollbacks,
		m.filesReverted,
	}
}

// StepTransition counts a step entering status.
func (m *Metrics) StepTransition(status state.StepStatus) {
	if m == nil {
		return
	}
	m.stepTransitions.WithLabelValues(string(status)).Inc()
}

// CheckpointCreated counts a written checkpoint.
func (m *Metrics) CheckpointCreated() {
	if m == nil {
		return
	}
	m.checkpointsCreated.Inc()
}

// CheckpointDeleted counts a deleted checkpoint.
func (m *Metrics) CheckpointDeleted() {
	if m == nil {
		return
	}
	m.checkpointsDeleted.Inc()
}

// Rollback counts a finished rollback.
func (m *Metrics) Rollback(status state.RollbackStatus) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(string(status)).Inc()
}

// FilesReverted counts file revert outcomes.
func (m *Metrics) FilesReverted(ok, failed int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.filesReverted.WithLabelValues("ok").Add(float64(ok))
	}
	if failed > 0 {
		m.filesReverted.WithLabelValues("failed").Add(float64(failed))
	}
}
