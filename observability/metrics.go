package observability

import (
	"errors"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetricsRegistry captures operation outcomes and balances for the
// yield, lending and fee ledgers.
type LedgerMetricsRegistry struct {
	requests      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	valueLocked   *prometheus.GaugeVec
	reserves      *prometheus.GaugeVec
	poolLiquidity *prometheus.GaugeVec
	feeBalance    *prometheus.GaugeVec
	activeLoans   prometheus.Gauge
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetricsRegistry
)

// LedgerMetrics returns the lazily-initialised registry shared by every ledger.
func LedgerMetrics() *LedgerMetricsRegistry {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetricsRegistry{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xfi",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by ledger, operation and outcome.",
			}, []string{"ledger", "operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xfi",
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Count of rejected ledger operations segmented by reason.",
			}, []string{"ledger", "operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "xfi",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including transfers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"ledger", "operation"}),
			valueLocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "xfi",
				Subsystem: "yield",
				Name:      "value_locked",
				Help:      "Principal held in active yield positions per token.",
			}, []string{"token"}),
			reserves: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "xfi",
				Subsystem: "yield",
				Name:      "reserve",
				Help:      "Yield reserve available per token.",
			}, []string{"token"}),
			poolLiquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "xfi",
				Subsystem: "lending",
				Name:      "pool_liquidity",
				Help:      "Borrowable liquidity per token.",
			}, []string{"token"}),
			feeBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "xfi",
				Subsystem: "fees",
				Name:      "treasury_balance",
				Help:      "Accrued protocol fees per token.",
			}, []string{"token"}),
			activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "xfi",
				Subsystem: "lending",
				Name:      "active_loans",
				Help:      "Number of loans that are neither repaid nor liquidated.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.requests,
			ledgerRegistry.errors,
			ledgerRegistry.latency,
			ledgerRegistry.valueLocked,
			ledgerRegistry.reserves,
			ledgerRegistry.poolLiquidity,
			ledgerRegistry.feeBalance,
			ledgerRegistry.activeLoans,
		)
	})
	return ledgerRegistry
}

// Observe records the outcome of a ledger operation.
func (m *LedgerMetricsRegistry) Observe(ledger, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	ledger = labelOr(ledger, "unknown")
	op := labelOr(operation, "unknown")
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(ledger, op, errorReason(err)).Inc()
	}
	m.requests.WithLabelValues(ledger, op, outcome).Inc()
	m.latency.WithLabelValues(ledger, op).Observe(duration.Seconds())
}

// SetValueLocked updates the locked principal gauge for token.
func (m *LedgerMetricsRegistry) SetValueLocked(token string, amount *big.Int) {
	if m == nil {
		return
	}
	m.valueLocked.WithLabelValues(labelAsset(token)).Set(bigToFloat(amount))
}

// SetReserve updates the yield reserve gauge for token.
func (m *LedgerMetricsRegistry) SetReserve(token string, amount *big.Int) {
	if m == nil {
		return
	}
	m.reserves.WithLabelValues(labelAsset(token)).Set(bigToFloat(amount))
}

// SetPoolLiquidity updates the borrowable liquidity gauge for token.
func (m *LedgerMetricsRegistry) SetPoolLiquidity(token string, amount *big.Int) {
	if m == nil {
		return
	}
	m.poolLiquidity.WithLabelValues(labelAsset(token)).Set(bigToFloat(amount))
}

// SetFeeBalance updates the treasury gauge for token.
func (m *LedgerMetricsRegistry) SetFeeBalance(token string, amount *big.Int) {
	if m == nil {
		return
	}
	m.feeBalance.WithLabelValues(labelAsset(token)).Set(bigToFloat(amount))
}

// SetActiveLoans records the number of open loans.
func (m *LedgerMetricsRegistry) SetActiveLoans(n int) {
	if m == nil {
		return
	}
	m.activeLoans.Set(float64(n))
}

// errorReason labels err by its innermost sentinel so wrapped context does
// not explode label cardinality.
func errorReason(err error) string {
	for {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			if inner := joined.Unwrap(); len(inner) > 0 && inner[0] != nil {
				err = inner[0]
				continue
			}
		}
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return labelOr(err.Error(), "unknown")
}

func labelOr(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
