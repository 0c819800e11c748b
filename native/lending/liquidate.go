package lending

import (
	"context"
	"fmt"
	"math/big"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/common"
)

// Liquidate seizes the collateral of user's loan once its term has ended or
// its health factor against the current total due has fallen below the
// required minimum. The collateral is split between caller and the treasury
// according to the configured routing.
func (l *Ledger) Liquidate(ctx context.Context, caller, user crypto.Address, loanID uint64) (result *Liquidation, err error) {
	if l == nil {
		return nil, errNilLedger
	}
	ctx, done := l.begin(ctx, "liquidate", &err)
	defer done()

	if err := common.Guard(l.pauses, ModuleName); err != nil {
		return nil, err
	}
	return l.liquidate(ctx, caller, user, loanID)
}

// BatchLiquidate runs the liquidation check for every (users[i], loanIDs[i])
// pair. Pairs that are not eligible or fail are skipped and reported; only a
// length mismatch or a paused module fails the whole call.
func (l *Ledger) BatchLiquidate(ctx context.Context, caller crypto.Address, users []crypto.Address, loanIDs []uint64) (result BatchResult, err error) {
	if l == nil {
		return BatchResult{}, errNilLedger
	}
	ctx, done := l.begin(ctx, "batch_liquidate", &err)
	defer done()

	if len(users) != len(loanIDs) {
		return BatchResult{}, fmt.Errorf("%w: %d users, %d loan ids", ErrBatchLengthMismatch, len(users), len(loanIDs))
	}
	if err := common.Guard(l.pauses, ModuleName); err != nil {
		return BatchResult{}, err
	}
	result = BatchResult{Liquidated: make([]*Liquidation, 0, len(users)), Skipped: make([]BatchSkip, 0)}
	for i, user := range users {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		liq, lerr := l.liquidate(ctx, caller, user, loanIDs[i])
		if lerr != nil {
			result.Skipped = append(result.Skipped, BatchSkip{User: user, LoanID: loanIDs[i], Reason: lerr.Error()})
			continue
		}
		result.Liquidated = append(result.Liquidated, liq)
	}
	return result, nil
}

func (l *Ledger) liquidate(ctx context.Context, caller, user crypto.Address, loanID uint64) (*Liquidation, error) {
	ctx, release, err := l.guard.Enter(ctx, loanEntity(loanID))
	if err != nil {
		return nil, err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	loan, err := l.lookupLocked(user, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.Active {
		return nil, ErrLoanInactive
	}
	now := l.now()
	expired := now > loan.DueAt()
	due := l.dueLocked(loan, now)
	hf, err := l.healthLocked(ctx, loan.CollateralToken, loan.CollateralAmount, loan.BorrowToken, due.Total)
	if err != nil {
		return nil, err
	}
	required := l.requiredHealthFactorLocked(user)
	if !expired && hf.Cmp(new(big.Int).SetUint64(required)) >= 0 {
		return nil, fmt.Errorf("%w: health factor %s >= %d", ErrNotLiquidatable, hf, required)
	}
	token := loan.CollateralToken
	toLiquidator, toTreasury := l.params.Routing.Split(loan.CollateralAmount)

	var journal common.Journal
	previous := *loan
	loan.Active = false
	loan.Status = StatusLiquidated
	loan.ClosedAt = now
	journal.Record(func() { *loan = previous })
	l.setActive(&journal, -1)

	update, err := l.credit.RecordLiquidation(user)
	if err != nil {
		journal.Revert()
		return nil, err
	}
	journal.Record(update.Revert)
	accrual, err := l.treasury.Stage(token, toTreasury)
	if err != nil {
		journal.Revert()
		return nil, err
	}
	journal.Record(accrual.Revert)

	var plan common.TransferPlan
	if toLiquidator.Sign() > 0 {
		plan.Add("push seized collateral", func(ctx context.Context) error {
			return l.port.Push(ctx, token, caller, toLiquidator)
		}, func(ctx context.Context) error {
			return l.port.Pull(ctx, token, caller, toLiquidator)
		})
	}
	closed := loan.Clone()
	err = common.Settle(ctx, &journal, &plan, l.store, func(batch *state.Batch) {
		l.writeLoan(batch, closed)
		update.Write(batch)
		accrual.Write(batch)
	})
	if err != nil {
		return nil, err
	}

	update.Publish()
	accrual.Publish()
	l.refreshGauges()
	result := &Liquidation{
		LoanID:       loanID,
		User:         user,
		Token:        token,
		ToLiquidator: toLiquidator,
		ToTreasury:   toTreasury,
		Expired:      expired,
		HealthFactor: hf,
	}
	l.logger.Warn("loan liquidated", "loanId", loanID, "user", user.String(), "liquidator", caller.String(),
		"toLiquidator", toLiquidator.String(), "toTreasury", toTreasury.String(), "expired", expired, "healthFactor", hf.String())
	l.emitter.Emit(events.LoanLiquidated{
		LoanID:       loanID,
		User:         user,
		Liquidator:   caller,
		Token:        token,
		ToLiquidator: common.Copy(toLiquidator),
		ToTreasury:   common.Copy(toTreasury),
		Expired:      expired,
		HealthFactor: common.Copy(hf),
	})
	l.emitter.Emit(events.ActiveLoanUpdated{User: user, ActiveLoans: update.Profile().ActiveLoans})
	return result, nil
}
