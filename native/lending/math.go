package lending

import (
	"math/big"

	"xficredit/native/common"
	"xficredit/native/fees"
)

// HealthFactor returns collateral * thresholdPct / borrow, so 150 means the
// threshold-weighted collateral covers the debt one and a half times. A zero
// borrow is infinitely healthy and reports the largest 256-bit value.
func HealthFactor(collateral, borrow *big.Int, thresholdPct uint64) *big.Int {
	if borrow == nil || borrow.Sign() == 0 {
		return new(big.Int).Set(common.MaxUint256)
	}
	hf := new(big.Int).Mul(common.Copy(collateral), new(big.Int).SetUint64(thresholdPct))
	return hf.Quo(hf, borrow)
}

// Due breaks the amount owed on a loan into its parts.
type Due struct {
	Principal *big.Int `json:"principal"`
	Interest  *big.Int `json:"interest"`
	Fee       *big.Int `json:"fee"`
	Total     *big.Int `json:"total"`
}

// computeDue charges simple interest on principal for elapsed seconds and a
// protocol fee on principal plus interest. elapsed is not capped at the loan
// term.
func computeDue(principal *big.Int, rateBps uint32, elapsed uint64, feeBps uint64) Due {
	interest := common.LinearAccrual(principal, uint64(rateBps), elapsed)
	quote := fees.Apply(new(big.Int).Add(common.Copy(principal), interest), feeBps)
	return Due{
		Principal: common.Copy(principal),
		Interest:  interest,
		Fee:       quote.Fee,
		Total:     quote.Surcharge(),
	}
}

func elapsedSince(start, now int64) uint64 {
	if now <= start {
		return 0
	}
	return uint64(now - start)
}
