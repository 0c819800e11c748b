package lending

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/common"
)

// Parameter names carried by lending.paramsUpdated.
const (
	ParamMinCollateral      = "minCollateral"
	ParamThreshold          = "liquidationThreshold"
	ParamMinimumDuration    = "minimumDuration"
	ParamMinHealthFactor    = "minHealthFactor"
	ParamProtocolFee        = "protocolFeeBps"
	ParamBorrowRestricted   = "borrowRestricted"
	ParamCollateralRouting  = "collateralRouting"
	ParamAllowLateRepayment = "allowLateRepayment"
)

// Bits of storedMeta.Overrides, one per admin-settable parameter.
const (
	overrideMinHealthFactor uint64 = 1 << iota
	overrideProtocolFee
	overrideMinimumDuration
	overrideLateRepayment
	overrideRouting
)

// updateMeta applies mutate to the ledger parameters under the write lock and
// persists the result. flag marks the parameter as set by the owner so that
// it keeps its value across restarts.
func (l *Ledger) updateMeta(caller crypto.Address, flag uint64, param, value string, mutate func(*Params)) error {
	if l == nil {
		return errNilLedger
	}
	if err := l.authority.Require(caller); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	previous, previousOverrides := l.params, l.overrides
	var journal common.Journal
	mutate(&l.params)
	l.overrides |= flag
	journal.Record(func() { l.params, l.overrides = previous, previousOverrides })
	meta := l.metaLocked()
	if err := common.Settle(context.Background(), &journal, nil, l.store, func(batch *state.Batch) {
		batch.Put(state.LendingMetaKey, meta)
	}); err != nil {
		return err
	}
	l.logger.Info("lending parameter updated", "param", param, "value", value)
	l.emitter.Emit(events.LendingParamsUpdated{Param: param, Value: value})
	return nil
}

// updateToken applies mutate to the settings of token and persists them.
func (l *Ledger) updateToken(caller crypto.Address, token, param, value string, mutate func(*tokenSettings)) error {
	if l == nil {
		return errNilLedger
	}
	if err := l.authority.Require(caller); err != nil {
		return err
	}
	token = common.NormalizeAsset(token)
	if token == "" {
		return common.ErrTokenNotAllowed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	previous, existed := l.settings[token]
	next := previous.clone()
	mutate(&next)
	l.settings[token] = next
	var journal common.Journal
	journal.Record(func() {
		if existed {
			l.settings[token] = previous
		} else {
			delete(l.settings, token)
		}
	})
	if err := common.Settle(context.Background(), &journal, nil, l.store, func(batch *state.Batch) {
		l.writeSettings(batch, token)
	}); err != nil {
		return err
	}
	l.logger.Info("lending token setting updated", "token", token, "param", param, "value", value)
	l.emitter.Emit(events.LendingParamsUpdated{Param: param, Token: token, Value: value})
	return nil
}

// SetMinCollateralAmount sets the smallest collateral accepted in token.
func (l *Ledger) SetMinCollateralAmount(caller crypto.Address, token string, amount *big.Int) error {
	if err := common.CheckU256(amount); err != nil {
		return err
	}
	min := common.Copy(amount)
	return l.updateToken(caller, token, ParamMinCollateral, min.String(), func(s *tokenSettings) {
		s.minCollateral = min
	})
}

// SetLiquidationThreshold sets the threshold, in percent, of collateral
// token.
func (l *Ledger) SetLiquidationThreshold(caller crypto.Address, token string, thresholdPct uint64) error {
	if thresholdPct > maxThresholdPct {
		return fmt.Errorf("%w: %d", ErrThresholdOutOfRange, thresholdPct)
	}
	return l.updateToken(caller, token, ParamThreshold, strconv.FormatUint(thresholdPct, 10), func(s *tokenSettings) {
		s.threshold = thresholdPct
		s.thresholdSet = true
	})
}

// SetBorrowRestricted marks token as collateral-only.
func (l *Ledger) SetBorrowRestricted(caller crypto.Address, token string, restricted bool) error {
	return l.updateToken(caller, token, ParamBorrowRestricted, strconv.FormatBool(restricted), func(s *tokenSettings) {
		s.restricted = restricted
	})
}

// SetMinimumDuration sets the shortest loan term in seconds.
func (l *Ledger) SetMinimumDuration(caller crypto.Address, seconds uint64) error {
	return l.updateMeta(caller, overrideMinimumDuration, ParamMinimumDuration, strconv.FormatUint(seconds, 10), func(p *Params) {
		p.MinimumDuration = seconds
	})
}

// SetMinHealthFactor sets the ledger-wide required health factor in percent.
func (l *Ledger) SetMinHealthFactor(caller crypto.Address, hf uint64) error {
	return l.updateMeta(caller, overrideMinHealthFactor, ParamMinHealthFactor, strconv.FormatUint(hf, 10), func(p *Params) {
		p.MinHealthFactor = hf
	})
}

// SetProtocolFee sets the repayment fee in basis points.
func (l *Ledger) SetProtocolFee(caller crypto.Address, bps uint64) error {
	if bps > maxBps {
		return fmt.Errorf("%w: %d", ErrFeeOutOfRange, bps)
	}
	return l.updateMeta(caller, overrideProtocolFee, ParamProtocolFee, strconv.FormatUint(bps, 10), func(p *Params) {
		p.ProtocolFeeBps = bps
	})
}

// SetCollateralRouting changes how seized collateral is split.
func (l *Ledger) SetCollateralRouting(caller crypto.Address, routing CollateralRouting) error {
	if err := routing.Validate(); err != nil {
		return err
	}
	value := strconv.FormatUint(routing.LiquidatorBps, 10) + "/" + strconv.FormatUint(routing.TreasuryBps, 10)
	return l.updateMeta(caller, overrideRouting, ParamCollateralRouting, value, func(p *Params) {
		p.Routing = routing
	})
}

// SetAllowLateRepayment toggles whether PayLoan accepts repayment after the
// term.
func (l *Ledger) SetAllowLateRepayment(caller crypto.Address, allowed bool) error {
	return l.updateMeta(caller, overrideLateRepayment, ParamAllowLateRepayment, strconv.FormatBool(allowed), func(p *Params) {
		p.AllowLateRepayment = allowed
	})
}

// SetTreasury moves the fee treasury to next.
func (l *Ledger) SetTreasury(caller, next crypto.Address) error {
	if l == nil {
		return errNilLedger
	}
	return l.treasury.SetTreasury(caller, next)
}

// SetTokenAllowed toggles token on the shared allow-list.
func (l *Ledger) SetTokenAllowed(caller crypto.Address, token string, allowed bool) error {
	if l == nil {
		return errNilLedger
	}
	return l.registry.SetAllowed(caller, token, allowed)
}
