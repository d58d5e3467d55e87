// Package metrics provides Prometheus metrics for the passmgr sync server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "passmgr"
)

// Metrics contains all Prometheus metrics for the sync server.
type Metrics struct {
	// RPC metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Auth metrics
	AuthFailures    *prometheus.CounterVec
	NonceRejections prometheus.Counter
	UsersRegistered prometheus.Counter

	// Storage metrics
	RecordsWritten prometheus.Counter
	RecordsDeleted prometheus.Counter
	StoresOpen     prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered against a
// custom registry (used by tests to avoid duplicate registration).
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "RPC requests by method and status code.",
		}, []string{"method", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "RPC handling latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Authentication failures by reason.",
		}, []string{"reason"}),

		NonceRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_rejections_total",
			Help:      "Requests rejected for a stale or replayed nonce.",
		}),

		UsersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_registered_total",
			Help:      "Successful user registrations.",
		}),

		RecordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Cipher records upserted.",
		}),

		RecordsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_deleted_total",
			Help:      "Cipher records deleted.",
		}),

		StoresOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stores_open",
			Help:      "Per-user record stores currently open.",
		}),
	}
}
