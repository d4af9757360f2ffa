// Package metrics exposes engine activity as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so the engine can call it
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Propagation kinds.
const (
	KindLocalAdd         = "local_add"
	KindLocalRemove      = "local_remove"
	KindCanonicalAdd     = "canonical_add"
	KindCanonicalRemove  = "canonical_remove"
	KindCanonicalRestore = "canonical_restore"
)

// Fetch results.
const (
	FetchOK     = "ok"
	FetchError  = "error"
	FetchShared = "shared"
)

// Rollback kinds.
const (
	RollbackEdits    = "edits"
	RollbackUndelete = "undelete"
	RollbackDestroy  = "destroy"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	pushes        *prometheus.CounterVec
	propagations  *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	staleKeys     prometheus.Counter
	deletions     prometheus.Counter
	rollbacks     *prometheus.CounterVec
	unloads       prometheus.Counter
}

// New creates the collectors and registers them on reg.
// Passing prometheus.DefaultRegisterer exposes them on the global registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_pushes_total",
			Help: "Canonical payloads ingested, by model type",
		}, []string{"type"}),
		propagations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_propagations_total",
			Help: "Membership deltas mirrored onto inverse fields, by kind",
		}, []string{"kind"}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_fetches_total",
			Help: "Async relationship materializations, by result",
		}, []string{"result"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tandem_fetch_duration_seconds",
			Help:    "Time spent in the loader for one materialization",
			Buckets: prometheus.DefBuckets,
		}),
		staleKeys: f.NewCounter(prometheus.CounterOpts{
			Name: "tandem_fetch_stale_keys_total",
			Help: "Fetched members overridden by newer canonical updates",
		}),
		deletions: f.NewCounter(prometheus.CounterOpts{
			Name: "tandem_deletions_total",
			Help: "Records marked deleted",
		}),
		rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tandem_rollbacks_total",
			Help: "Record rollbacks, by kind",
		}, []string{"kind"}),
		unloads: f.NewCounter(prometheus.CounterOpts{
			Name: "tandem_unloads_total",
			Help: "Records removed from the identity map",
		}),
	}
}

func (m *Metrics) Push(typ string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(typ).Inc()
}

func (m *Metrics) Propagation(kind string) {
	if m == nil {
		return
	}
	m.propagations.WithLabelValues(kind).Inc()
}

// Fetch records one loader round trip. Shared waiters are recorded with
// FetchShared and a zero duration.
func (m *Metrics) Fetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	if result != FetchShared {
		m.fetchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) StaleKeys(n int) {
	if m == nil || n == 0 {
		return
	}
	m.staleKeys.Add(float64(n))
}

func (m *Metrics) Deletion() {
	if m == nil {
		return
	}
	m.deletions.Inc()
}

func (m *Metrics) Rollback(kind string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) Unload() {
	if m == nil {
		return
	}
	m.unloads.Inc()
}
