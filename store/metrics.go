package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts session activity. A nil *Metrics records nothing.
type Metrics struct {
	Commits      *prometheus.CounterVec
	Conflicts    *prometheus.CounterVec
	Batches      *prometheus.CounterVec
	Skipped      *prometheus.CounterVec
	CacheLookups *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg, when non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Total number of entity service commits",
			},
			[]string{"type", "result"},
		),
		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_total",
				Help:      "Total number of optimistic concurrency conflicts",
			},
			[]string{"type"},
		),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of submitted write batches",
			},
			[]string{"type", "result"},
		),
		Skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "writes_skipped_total",
				Help:      "Total number of unchanged entities not written",
			},
			[]string{"type"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of session cache lookups",
			},
			[]string{"type", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Commits, m.Conflicts, m.Batches, m.Skipped, m.CacheLookups)
	}
	return m
}

func (m *Metrics) commit(typ string, err error) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(typ, result(err)).Inc()
}

func (m *Metrics) conflict(typ string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(typ).Inc()
}

func (m *Metrics) batch(typ string, err error) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(typ, result(err)).Inc()
}

func (m *Metrics) skipped(typ string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(typ).Inc()
}

func (m *Metrics) cacheLookup(typ string, hit bool) {
	if m == nil {
		return
	}
	r := "miss"
	if hit {
		r = "hit"
	}
	m.CacheLookups.WithLabelValues(typ, r).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
