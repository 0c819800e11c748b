package observability

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("yield ledger: position still locked")

func TestObserveCountsOutcomes(t *testing.T) {
	m := LedgerMetrics()
	m.Observe("observe-test", "withdraw", time.Millisecond, nil)
	m.Observe("observe-test", "withdraw", time.Millisecond, fmt.Errorf("%w: matures at 10", errSentinel))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("observe-test", "withdraw", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("observe-test", "withdraw", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("observe-test", "withdraw", errSentinel.Error())))
}

func TestErrorReasonUnwrapsJoinedErrors(t *testing.T) {
	persist := errors.New("persist failed")
	err := errors.Join(fmt.Errorf("%w: disk full", persist), errors.New("compensate"))
	assert.Equal(t, "persist failed", errorReason(err))
	assert.Equal(t, "unknown", labelOr("  ", "unknown"))
}

func TestBalanceGauges(t *testing.T) {
	m := LedgerMetrics()
	m.SetValueLocked(" gauge-xfi ", big.NewInt(1500))
	m.SetReserve("gauge-xfi", nil)
	m.SetPoolLiquidity("gauge-usdc", big.NewInt(42))
	m.SetFeeBalance("gauge-usdc", big.NewInt(7))
	m.SetActiveLoans(3)

	assert.Equal(t, 1500.0, testutil.ToFloat64(m.valueLocked.WithLabelValues("GAUGE-XFI")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.reserves.WithLabelValues("GAUGE-XFI")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.poolLiquidity.WithLabelValues("GAUGE-USDC")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.feeBalance.WithLabelValues("GAUGE-USDC")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeLoans))
}

func TestNilRegistryIsSafe(t *testing.T) {
	var m *LedgerMetricsRegistry
	require.NotPanics(t, func() {
		m.Observe("yield", "deposit", time.Second, nil)
		m.SetActiveLoans(1)
	})
	var e *EventMetricsRegistry
	require.NotPanics(t, func() { e.RecordEmitted("yield.deposited") })
}

func TestEventCounters(t *testing.T) {
	e := Events()
	e.RecordEmitted("counter.test")
	e.RecordDelivery("counter-sink", errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.emitted.WithLabelValues("counter.test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.delivered.WithLabelValues("counter-sink", "error")))
}
