package lending

import (
	"fmt"
	"math/big"
)

// Params captures the runtime configuration for the loan ledger. Per-token
// risk settings live in TokenRisk and are managed through the admin setters.
type Params struct {
	// MinHealthFactor is the health factor, in percent, a new loan must reach
	// and an open loan must keep to avoid liquidation.
	MinHealthFactor uint64 `toml:"min_health_factor"`
	// ProtocolFeeBps is charged on principal plus interest at repayment.
	ProtocolFeeBps uint64 `toml:"protocol_fee_bps"`
	// MinimumDuration is the shortest loan term in seconds.
	MinimumDuration uint64 `toml:"minimum_duration"`
	// DefaultThreshold applies to collateral tokens without an explicit
	// liquidation threshold.
	DefaultThreshold   uint64            `toml:"default_liquidation_threshold"`
	AllowLateRepayment bool              `toml:"allow_late_repayment"`
	Routing            CollateralRouting `toml:"collateral_routing"`
	ChainID            uint64            `toml:"chain_id"`
}

// DefaultParams returns the launch configuration.
func DefaultParams() Params {
	return Params{
		MinHealthFactor:    150,
		ProtocolFeeBps:     200,
		DefaultThreshold:   80,
		AllowLateRepayment: true,
		Routing:            CollateralRouting{LiquidatorBps: maxBps},
	}
}

// Validate checks every bound enforced by the admin setters.
func (p Params) Validate() error {
	if p.ProtocolFeeBps > maxBps {
		return fmt.Errorf("%w: %d", ErrFeeOutOfRange, p.ProtocolFeeBps)
	}
	if p.DefaultThreshold > maxThresholdPct {
		return fmt.Errorf("%w: %d", ErrThresholdOutOfRange, p.DefaultThreshold)
	}
	return p.Routing.Validate()
}

// EnsureDefaults fills unset fields so a partially specified configuration
// still behaves like the launch settings.
func (p *Params) EnsureDefaults() {
	defaults := DefaultParams()
	if p.MinHealthFactor == 0 {
		p.MinHealthFactor = defaults.MinHealthFactor
	}
	if p.DefaultThreshold == 0 {
		p.DefaultThreshold = defaults.DefaultThreshold
	}
	if p.Routing.LiquidatorBps == 0 && p.Routing.TreasuryBps == 0 {
		p.Routing = defaults.Routing
	}
}

// TokenRisk holds the per-token settings.
type TokenRisk struct {
	Token string `json:"token"`
	// MinCollateral is the smallest collateral amount accepted for a loan.
	MinCollateral *big.Int `json:"minCollateral"`
	// Threshold is the liquidation threshold in percent.
	Threshold uint64 `json:"liquidationThreshold"`
	// BorrowRestricted marks assets accepted only as collateral.
	BorrowRestricted bool `json:"borrowRestricted"`
}

// Clone returns a deep copy of the risk settings.
func (r TokenRisk) Clone() TokenRisk {
	clone := r
	if r.MinCollateral != nil {
		clone.MinCollateral = new(big.Int).Set(r.MinCollateral)
	}
	return clone
}
