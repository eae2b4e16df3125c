package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"saleescrow/core/events"
)

type agreementMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	custody    *prometheus.GaugeVec
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	agreementMetricsOnce sync.Once
	agreementRegistry    *agreementMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Agreements returns the lazily-initialised registry metrics. It satisfies the
// registry's Metrics contract.
func Agreements() *agreementMetrics {
	agreementMetricsOnce.Do(func() {
		agreementRegistry = &agreementMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "agreement",
				Name:      "operations_total",
				Help:      "Total agreement registry operations segmented by operation and outcome code.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "agreement",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for agreement registry operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			custody: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "agreement",
				Name:      "custody_balance",
				Help:      "Vault balance per asset in base units, sampled after each committed fund movement.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			agreementRegistry.operations,
			agreementRegistry.latency,
			agreementRegistry.custody,
		)
	})
	return agreementRegistry
}

// ObserveOperation records the outcome of one registry call.
func (m *agreementMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SetCustody publishes the vault balance for asset.
func (m *agreementMetrics) SetCustody(asset [20]byte, amount *big.Int) {
	if m == nil {
		return
	}
	value := 0.0
	if amount != nil {
		value, _ = new(big.Float).SetInt(amount).Float64()
	}
	m.custody.WithLabelValues(events.AssetLabel(asset)).Set(value)
}

// RPC returns the lazily-initialised JSON-RPC metrics.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of JSON-RPC requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency, rpcRegistry.throttles)
	})
	return rpcRegistry
}

// Observe records one JSON-RPC call.
func (m *rpcMetrics) Observe(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordThrottle increments the throttle counter.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(reason).Inc()
}
