// Package metrics exports pool events as Prometheus metrics.
//
// Basic usage:
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	pool, err := connpool.New(ctx, connpool.Config{
//		Name:     "orders",
//		Listener: m.ForPool("orders"),
//		...
//	})
//
// Every metric carries a pool label, so one Metrics value serves any number
// of pools.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yuku/connpool/internal/pool"
)

const namespace = "connpool"

// durationBuckets spans 100µs to 10s.
var durationBuckets = prometheus.ExponentialBucketsRange(0.0001, 10, 12)

// Metrics holds the collectors shared by every pool.
type Metrics struct {
	open             *prometheus.GaugeVec
	sessionsCreated  *prometheus.CounterVec
	createDuration   *prometheus.HistogramVec
	acquireTimeouts  *prometheus.CounterVec
	acquireWait      *prometheus.HistogramVec
	checkoutDuration *prometheus.HistogramVec
	evictions        *prometheus.CounterVec
	cacheRequests    *prometheus.CounterVec
	statementEvicted *prometheus.CounterVec
}

// New registers the pool collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		open: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_open",
				Help:      "Whether the pool is open",
			},
			[]string{"pool"},
		),
		sessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total number of sessions opened by the pool",
			},
			[]string{"pool"},
		),
		createDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_create_duration_seconds",
				Help:      "Time taken to open and initialize a session",
				Buckets:   durationBuckets,
			},
			[]string{"pool"},
		),
		acquireTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquire_timeouts_total",
				Help:      "Total number of acquisitions that timed out",
			},
			[]string{"pool"},
		),
		acquireWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "acquire_wait_duration_seconds",
				Help:      "Time spent waiting for a session",
				Buckets:   durationBuckets,
			},
			[]string{"pool"},
		),
		checkoutDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "checkout_duration_seconds",
				Help:      "Time a session was held by a caller",
				Buckets:   durationBuckets,
			},
			[]string{"pool"},
		),
		evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Total number of sessions removed from the pool",
			},
			[]string{"pool", "reason"},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statement_cache_requests_total",
				Help:      "Total number of statement cache lookups",
			},
			[]string{"pool", "result"},
		),
		statementEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statement_evictions_total",
				Help:      "Total number of statements dropped from a session cache",
			},
			[]string{"pool", "reason"},
		),
	}
}

// ForPool returns a listener that records the events of the named pool.
func (m *Metrics) ForPool(name string) *Listener {
	return &Listener{
		m:               m,
		name:            name,
		open:            m.open.WithLabelValues(name),
		sessionsCreated: m.sessionsCreated.WithLabelValues(name),
		createDuration:  m.createDuration.WithLabelValues(name),
		acquireTimeouts: m.acquireTimeouts.WithLabelValues(name),
		acquireWait:     m.acquireWait.WithLabelValues(name),
		checkout:        m.checkoutDuration.WithLabelValues(name),
		cacheHits:       m.cacheRequests.WithLabelValues(name, "hit"),
		cacheMisses:     m.cacheRequests.WithLabelValues(name, "miss"),
	}
}

// Listener is a pool listener bound to one pool.
type Listener struct {
	m    *Metrics
	name string

	open            prometheus.Gauge
	sessionsCreated prometheus.Counter
	createDuration  prometheus.Observer
	acquireTimeouts prometheus.Counter
	acquireWait     prometheus.Observer
	checkout        prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

var _ pool.Listener = (*Listener)(nil)

func (l *Listener) PoolCreated(string) { l.open.Set(1) }
func (l *Listener) PoolClosed(string)  { l.open.Set(0) }

func (l *Listener) EntryCreated(elapsed time.Duration) {
	l.sessionsCreated.Inc()
	l.createDuration.Observe(elapsed.Seconds())
}

func (l *Listener) AcquireTimeout(waited time.Duration) {
	l.acquireTimeouts.Inc()
	l.acquireWait.Observe(waited.Seconds())
}

func (l *Listener) Acquired(waited time.Duration) { l.acquireWait.Observe(waited.Seconds()) }
func (l *Listener) Returned(held time.Duration)   { l.checkout.Observe(held.Seconds()) }

func (l *Listener) Evicted(reason pool.EvictReason) {
	l.m.evictions.WithLabelValues(l.name, reason.String()).Inc()
}

func (l *Listener) StatementCacheHit()  { l.cacheHits.Inc() }
func (l *Listener) StatementCacheMiss() { l.cacheMisses.Inc() }

func (l *Listener) StatementEvicted(reason pool.StatementEvictReason) {
	l.m.statementEvicted.WithLabelValues(l.name, reason.String()).Inc()
}
