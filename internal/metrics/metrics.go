// Package metrics exposes the Prometheus counters and histograms the
// dispatcher updates as it serves requests.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the dispatcher touches. A nil *Metrics
// is valid and every method on it is a no-op, so callers that build a
// Dispatcher without metrics configured don't need a separate code
// path.
type Metrics struct {
	mapCacheHits   *prometheus.CounterVec
	mapCacheMisses prometheus.Counter
	mapsDestroyed  prometheus.Counter

	copyUpsIssued    prometheus.Counter
	copyUpsCompleted *prometheus.CounterVec

	translateDuration *prometheus.HistogramVec
}

// New registers mapperd's collectors against reg and returns a Metrics
// ready to record against. Pass prometheus.NewRegistry() for an
// isolated registry (tests), or a shared one wired to an HTTP handler
// in production.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		mapCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapperd_map_cache_result_total",
			Help: "Map cache lookups, partitioned by whether the map was already ready or had to load.",
		}, []string{"result"}), // "ready", "pending"

		mapCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "mapperd_map_cache_misses_total",
			Help: "Map lookups that did not find a ready map: a load was issued, joined, or could not be started.",
		}),

		mapsDestroyed: f.NewCounter(prometheus.CounterOpts{
			Name: "mapperd_maps_destroyed_total",
			Help: "Maps that transitioned to DESTROYED after a failed load or decode.",
		}),

		copyUpsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "mapperd_copy_ups_issued_total",
			Help: "COPY operations issued to the backing store for copy-up.",
		}),

		copyUpsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mapperd_copy_ups_completed_total",
			Help: "Completed copy-ups, partitioned by outcome.",
		}, []string{"outcome"}), // "success", "failure"

		translateDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mapperd_translate_duration_milliseconds",
			Help:    "Time spent translating a ready map's (offset, size) into a scatter list.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50},
		}, []string{"op"}), // "MAPR", "MAPW"
	}
}

func (m *Metrics) ObserveCacheReady() {
	if m == nil {
		return
	}
	m.mapCacheHits.WithLabelValues("ready").Inc()
}

func (m *Metrics) ObserveCachePending() {
	if m == nil {
		return
	}
	m.mapCacheHits.WithLabelValues("pending").Inc()
	m.mapCacheMisses.Inc()
}

func (m *Metrics) ObserveMapDestroyed() {
	if m == nil {
		return
	}
	m.mapsDestroyed.Inc()
}

func (m *Metrics) ObserveCopyUpIssued() {
	if m == nil {
		return
	}
	m.copyUpsIssued.Inc()
}

func (m *Metrics) ObserveCopyUpCompleted(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.copyUpsCompleted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTranslateDuration(op string, ms float64) {
	if m == nil {
		return
	}
	m.translateDuration.WithLabelValues(op).Observe(ms)
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns a process-wide Metrics registered against
// prometheus.DefaultRegisterer, built once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = New(prometheus.DefaultRegisterer)
	})
	return defaultM
}
