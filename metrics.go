package hnsw

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by a Graph. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Inserts         prometheus.Counter
	InsertFailures  *prometheus.CounterVec
	Searches        prometheus.Counter
	ReverseUpdates  prometheus.Counter
	EvictedEdges    prometheus.Counter
	EntryPromotions prometheus.Counter
	Points          prometheus.Gauge
	InsertDuration  prometheus.Histogram
	SearchDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Inserts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_inserts_total",
			Help:      "Total number of points inserted",
		}),
		InsertFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_insert_failures_total",
			Help:      "Total number of rejected insertions by reason",
		}, []string{"reason"}),
		Searches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_searches_total",
			Help:      "Total number of searches",
		}),
		ReverseUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_reverse_updates_total",
			Help:      "Total number of reverse links requested",
		}),
		EvictedEdges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_evicted_edges_total",
			Help:      "Total number of edges dropped by re-pruning",
		}),
		EntryPromotions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hnsw_entry_promotions_total",
			Help:      "Total number of entry point replacements",
		}),
		Points: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hnsw_points",
			Help:      "Number of points in the graph",
		}),
		InsertDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hnsw_insert_duration_seconds",
			Help:      "Duration of single point insertions",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hnsw_search_duration_seconds",
			Help:      "Duration of searches",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateOriginID):
		return "duplicate"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, ErrEmptyVector):
		return "empty"
	default:
		return "other"
	}
}

func (m *Metrics) observeInsert(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.InsertFailures.WithLabelValues(failureReason(err)).Inc()
		return
	}
	m.Inserts.Inc()
	m.InsertDuration.Observe(d.Seconds())
}

func (m *Metrics) observeSearch(d time.Duration, err error) {
	if m == nil || err != nil {
		return
	}
	m.Searches.Inc()
	m.SearchDuration.Observe(d.Seconds())
}

func (m *Metrics) reverseUpdates(requested, evicted int) {
	if m == nil {
		return
	}
	m.ReverseUpdates.Add(float64(requested))
	m.EvictedEdges.Add(float64(evicted))
}

func (m *Metrics) promoted() {
	if m == nil {
		return
	}
	m.EntryPromotions.Inc()
}

func (m *Metrics) setPoints(n int) {
	if m == nil {
		return
	}
	m.Points.Set(float64(n))
}
