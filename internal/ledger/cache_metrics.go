package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics observes the balance cache. A nil *CacheMetrics is a no-op.
type CacheMetrics struct {
	hits    *prometheus.CounterVec
	misses  *prometheus.CounterVec
	compute *prometheus.HistogramVec
}

// NewCacheMetrics registers the balance cache collectors, reusing ones that
// were already registered on reg.
func NewCacheMetrics(reg prometheus.Registerer) (*CacheMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &CacheMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_balance_cache_hits_total",
			Help: "Number of balance cache hits.",
		}, []string{"tenant"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_balance_cache_miss_total",
			Help: "Number of balance cache misses.",
		}, []string{"tenant"}),
		compute: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_ledger_balance_compute_duration_seconds",
			Help:    "Duration required to compute an account balance.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tenant"}),
	}
	register := func(c prometheus.Collector) (prometheus.Collector, error) {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return already.ExistingCollector, nil
			}
			return nil, err
		}
		return c, nil
	}
	for _, target := range []**prometheus.CounterVec{&m.hits, &m.misses} {
		existing, err := register(*target)
		if err != nil {
			return nil, err
		}
		counter, ok := existing.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("ledger cache metrics: unexpected collector type %T", existing)
		}
		*target = counter
	}
	existing, err := register(m.compute)
	if err != nil {
		return nil, err
	}
	hist, ok := existing.(*prometheus.HistogramVec)
	if !ok {
		return nil, fmt.Errorf("ledger cache metrics: unexpected collector type %T", existing)
	}
	m.compute = hist
	return m, nil
}

func (m *CacheMetrics) hit(tenantID int64) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(strconv.FormatInt(tenantID, 10)).Inc()
}

func (m *CacheMetrics) miss(tenantID int64) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(strconv.FormatInt(tenantID, 10)).Inc()
}

func (m *CacheMetrics) observe(tenantID int64, d time.Duration) {
	if m == nil {
		return
	}
	m.compute.WithLabelValues(strconv.FormatInt(tenantID, 10)).Observe(d.Seconds())
}
