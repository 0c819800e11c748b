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

// PayLoan settles a loan in full. The total due is pulled from the borrower,
// collateral is returned, principal plus interest flow back into the pool and
// the protocol fee accrues to the treasury. Repayment after the term is
// classified late, or rejected when late repayment is disabled.
func (l *Ledger) PayLoan(ctx context.Context, caller crypto.Address, loanID uint64, destinationChainID uint64) (paid *big.Int, err error) {
	if l == nil {
		return nil, errNilLedger
	}
	ctx, done := l.begin(ctx, "repay", &err)
	defer done()

	if err := common.Guard(l.pauses, ModuleName); err != nil {
		return nil, err
	}
	ctx, release, err := l.guard.Enter(ctx, loanEntity(loanID))
	if err != nil {
		return nil, err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	loan, ok := l.loans[loanID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, loanID)
	}
	if loan.User != caller {
		return nil, ErrNotOwner
	}
	if !loan.Active {
		return nil, ErrLoanInactive
	}
	now := l.now()
	onTime := now <= loan.DueAt()
	if !onTime && !l.params.AllowLateRepayment {
		return nil, fmt.Errorf("%w: due at %d", ErrLoanExpired, loan.DueAt())
	}
	due := l.dueLocked(loan, now)
	borrowToken := loan.BorrowToken
	returned := new(big.Int).Add(due.Principal, due.Interest)

	var journal common.Journal
	previous := *loan
	loan.Active = false
	loan.Status = StatusRepaid
	loan.AmountPaid = common.Copy(due.Total)
	loan.ClosedAt = now
	journal.Record(func() { *loan = previous })
	l.setPool(&journal, borrowToken, new(big.Int).Add(common.Copy(l.pools[borrowToken]), returned))
	l.setActive(&journal, -1)

	update, err := l.credit.RecordRepayment(caller, due.Total, onTime)
	if err != nil {
		journal.Revert()
		return nil, err
	}
	journal.Record(update.Revert)
	accrual, err := l.treasury.Stage(borrowToken, due.Fee)
	if err != nil {
		journal.Revert()
		return nil, err
	}
	journal.Record(accrual.Revert)

	var plan common.TransferPlan
	plan.Add("pull repayment", func(ctx context.Context) error {
		return l.port.Pull(ctx, borrowToken, caller, due.Total)
	}, func(ctx context.Context) error {
		return l.port.Push(ctx, borrowToken, caller, due.Total)
	})
	plan.Add("return collateral", func(ctx context.Context) error {
		return l.port.Push(ctx, loan.CollateralToken, caller, loan.CollateralAmount)
	}, func(ctx context.Context) error {
		return l.port.Pull(ctx, loan.CollateralToken, caller, loan.CollateralAmount)
	})
	closed := loan.Clone()
	err = common.Settle(ctx, &journal, &plan, l.store, func(batch *state.Batch) {
		l.writeLoan(batch, closed)
		l.writePool(batch, borrowToken)
		update.Write(batch)
		accrual.Write(batch)
	})
	if err != nil {
		return nil, err
	}

	update.Publish()
	accrual.Publish()
	l.refreshGauges(borrowToken)
	l.logger.Info("loan repaid", "loanId", loanID, "user", caller.String(), "total", due.Total.String(),
		"interest", due.Interest.String(), "fee", due.Fee.String(), "onTime", onTime)
	l.emitter.Emit(events.LoanRepaid{
		LoanID:  loanID,
		User:    caller,
		Amount:  common.Copy(due.Total),
		OnTime:  onTime,
		ChainID: destinationChainID,
	})
	if due.Fee.Sign() > 0 {
		l.emitter.Emit(events.ProtocolFeeCollected{
			LoanID:   loanID,
			Token:    borrowToken,
			Amount:   common.Copy(due.Fee),
			Treasury: l.treasury.Address(),
		})
	}
	l.emitter.Emit(events.ActiveLoanUpdated{User: caller, ActiveLoans: update.Profile().ActiveLoans})
	return common.Copy(due.Total), nil
}
