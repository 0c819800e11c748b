package lending

import (
	"fmt"
	"math/big"

	"xficredit/native/common"
)

const (
	maxBps          = common.BasisPoints
	maxThresholdPct = 100
)

// CollateralRouting splits seized collateral between the liquidator and the
// fee treasury. Any share not assigned to the treasury goes to the
// liquidator.
type CollateralRouting struct {
	LiquidatorBps uint64 `toml:"liquidator_bps" json:"liquidatorBps"`
	TreasuryBps   uint64 `toml:"treasury_bps" json:"treasuryBps"`
}

// Validate rejects routings that assign more than the whole collateral.
func (r CollateralRouting) Validate() error {
	if r.LiquidatorBps+r.TreasuryBps > maxBps {
		return fmt.Errorf("%w: %d + %d bps", ErrRoutingOutOfRange, r.LiquidatorBps, r.TreasuryBps)
	}
	return nil
}

// Split divides amount into the liquidator and treasury shares. Rounding dust
// stays with the liquidator.
func (r CollateralRouting) Split(amount *big.Int) (toLiquidator, toTreasury *big.Int) {
	toTreasury = common.ApplyBps(amount, r.TreasuryBps)
	toLiquidator = new(big.Int).Sub(common.Copy(amount), toTreasury)
	return toLiquidator, toTreasury
}
