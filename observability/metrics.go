package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trustledger"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	custodyMetricsOnce sync.Once
	custodyRegistry    *CustodyMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. status is the HTTP status
// ultimately written to the client.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// CustodyMetrics tracks value flowing through wallets and escrows.
type CustodyMetrics struct {
	deposits         prometheus.Counter
	depositVolume    prometheus.Counter
	withdrawals      prometheus.Counter
	withdrawalVolume prometheus.Counter
	transferFailures *prometheus.CounterVec
	escrows          *prometheus.CounterVec
	headHeight       prometheus.Gauge
}

// Custody returns the singleton custody metrics registry.
func Custody() *CustodyMetrics {
	custodyMetricsOnce.Do(func() {
		custodyRegistry = &CustodyMetrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "custody",
				Name:      "deposits_total",
				Help:      "Count of committed wallet deposits.",
			}),
			depositVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "custody",
				Name:      "deposit_volume",
				Help:      "Sum of deposited value, approximated as float.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "custody",
				Name:      "withdrawals_total",
				Help:      "Count of committed non-zero wallet withdrawals.",
			}),
			withdrawalVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "custody",
				Name:      "withdrawal_volume",
				Help:      "Sum of withdrawn value, approximated as float.",
			}),
			transferFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "custody",
				Name:      "transfer_failures_total",
				Help:      "Count of host transfers that aborted a custody operation.",
			}, []string{"operation"}),
			escrows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "custody",
				Name:      "chainsend_total",
				Help:      "Count of conditional escrow constructions segmented by outcome.",
			}, []string{"outcome"}),
			headHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "chain",
				Name:      "head_height",
				Help:      "Height of the latest sealed header.",
			}),
		}
		prometheus.MustRegister(
			custodyRegistry.deposits,
			custodyRegistry.depositVolume,
			custodyRegistry.withdrawals,
			custodyRegistry.withdrawalVolume,
			custodyRegistry.transferFailures,
			custodyRegistry.escrows,
			custodyRegistry.headHeight,
		)
	})
	return custodyRegistry
}

// RecordDeposit counts a committed deposit. Zero deposits are ignored.
func (m *CustodyMetrics) RecordDeposit(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.deposits.Inc()
	m.depositVolume.Add(bigToFloat(amount))
}

// RecordWithdrawal counts a committed withdrawal. Zero withdrawals are ignored.
func (m *CustodyMetrics) RecordWithdrawal(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.withdrawals.Inc()
	m.withdrawalVolume.Add(bigToFloat(amount))
}

// RecordTransferFailure counts a custody operation aborted by its transfer.
func (m *CustodyMetrics) RecordTransferFailure(operation string) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	m.transferFailures.WithLabelValues(op).Inc()
}

// RecordEscrow counts a conditional escrow construction attempt.
func (m *CustodyMetrics) RecordEscrow(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.escrows.WithLabelValues(outcome).Inc()
}

// SetHeadHeight records the height of the latest sealed header.
func (m *CustodyMetrics) SetHeadHeight(height uint64) {
	if m == nil {
		return
	}
	m.headHeight.Set(float64(height))
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
