package offlineproxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//Metrics counts cache and queue activity. All controller call sites tolerate a nil
// Metrics so the proxy runs unchanged without a registry.
type Metrics struct {
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	queuedMutations   prometheus.Counter
	replayedMutations prometheus.Counter

	queueDepth prometheus.Gauge
}

//NewMetrics creates and registers the proxy metrics on the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offlineproxy_cache_hits_total",
			Help: "Number of requests served from a cache bucket.",
		}, []string{"bucket"}),

		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "offlineproxy_cache_misses_total",
			Help: "Number of requests that missed their cache bucket.",
		}, []string{"bucket"}),

		queuedMutations: factory.NewCounter(prometheus.CounterOpts{
			Name: "offlineproxy_queued_mutations_total",
			Help: "Number of mutating requests persisted for later replay.",
		}),

		replayedMutations: factory.NewCounter(prometheus.CounterOpts{
			Name: "offlineproxy_replayed_mutations_total",
			Help: "Number of replay attempts issued against the network.",
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "offlineproxy_queue_depth",
			Help: "Number of pending mutations currently in the queue store.",
		}),
	}
}

func (m *Metrics) cacheHit(bucket string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(bucket).Inc()
}

func (m *Metrics) cacheMiss(bucket string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(bucket).Inc()
}

func (m *Metrics) mutationQueued(depth int) {
	if m == nil {
		return
	}
	m.queuedMutations.Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) mutationsReplayed(count int) {
	if m == nil {
		return
	}
	m.replayedMutations.Add(float64(count))
	m.queueDepth.Set(0)
}
