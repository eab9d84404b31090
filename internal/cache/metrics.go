package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus counters for the cache subsystem.
type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Sets          prometheus.Counter
	Invalidations prometheus.Counter
	Errors        prometheus.Counter
	FileHits      prometheus.Counter
	FileEvictions prometheus.Counter
}

// NewMetrics creates and registers the cache counters. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earthsight_cache_hits_total",
			Help: "Entry store lookups that returned a cached payload.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earthsight_cache_misses_total",
			Help: "Entry store lookups that found nothing.",
		}),
		Sets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earthsight_cache_sets_total",
			Help: "Entries written to the store.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earthsight_cache_invalidations_total",
			Help: "Entries deleted by key or pattern.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earthsight_cache_errors_total",
			Help: "Store operations that failed.",
		}),
		FileHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earthsight_filecache_hits_total",
			Help: "File cache checks that found an artifact on disk.",
		}),
		FileEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "earthsight_filecache_evictions_total",
			Help: "Artifacts removed by the age sweep.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Sets, m.Invalidations, m.Errors, m.FileHits, m.FileEvictions)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) set() {
	if m != nil {
		m.Sets.Inc()
	}
}

func (m *Metrics) invalidation(n int) {
	if m != nil {
		m.Invalidations.Add(float64(n))
	}
}

func (m *Metrics) failure() {
	if m != nil {
		m.Errors.Inc()
	}
}

func (m *Metrics) fileHit() {
	if m != nil {
		m.FileHits.Inc()
	}
}

func (m *Metrics) fileEvictions(n int) {
	if m != nil {
		m.FileEvictions.Add(float64(n))
	}
}
