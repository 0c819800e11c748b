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

// Borrow opens a loan: collateral is pulled into custody and the borrowed
// amount is pushed from the pool. The interest rate is fixed from the
// borrower's credit tier at creation.
func (l *Ledger) Borrow(ctx context.Context, req BorrowRequest) (id uint64, err error) {
	if l == nil {
		return 0, errNilLedger
	}
	ctx, done := l.begin(ctx, "borrow", &err)
	defer done()

	if err := common.Guard(l.pauses, ModuleName); err != nil {
		return 0, err
	}
	if err := common.CheckAmount(req.CollateralAmount); err != nil {
		return 0, err
	}
	if err := common.CheckAmount(req.BorrowAmount); err != nil {
		return 0, err
	}
	collateralToken := common.NormalizeAsset(req.CollateralToken)
	borrowToken := common.NormalizeAsset(req.BorrowToken)
	if err := l.registry.Require(collateralToken); err != nil {
		return 0, err
	}
	if err := l.registry.Require(borrowToken); err != nil {
		return 0, err
	}
	user := req.Caller
	ctx, release, err := l.guard.Enter(ctx, "borrower:"+user.Hex())
	if err != nil {
		return 0, err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settings[borrowToken].restricted {
		return 0, fmt.Errorf("%w: %s", ErrBorrowTokenRestricted, borrowToken)
	}
	if min := l.settings[collateralToken].minCollateral; min != nil && req.CollateralAmount.Cmp(min) < 0 {
		return 0, fmt.Errorf("%w: %s below %s", ErrCollateralTooLow, req.CollateralAmount, min)
	}
	now := l.now()
	if req.Duration == 0 || req.Duration < l.params.MinimumDuration {
		return 0, fmt.Errorf("%w: %d (minimum %d)", ErrInvalidDuration, req.Duration, l.params.MinimumDuration)
	}
	if !common.TermFits(now, req.Duration) {
		return 0, fmt.Errorf("%w: %d overflows the loan term", ErrInvalidDuration, req.Duration)
	}
	hf, err := l.healthLocked(ctx, collateralToken, req.CollateralAmount, borrowToken, req.BorrowAmount)
	if err != nil {
		return 0, err
	}
	required := l.requiredHealthFactorLocked(user)
	if hf.Cmp(new(big.Int).SetUint64(required)) < 0 {
		return 0, fmt.Errorf("%w: %s < %d", ErrHealthFactorTooLow, hf, required)
	}
	available := common.Copy(l.pools[borrowToken])
	if available.Cmp(req.BorrowAmount) < 0 {
		return 0, fmt.Errorf("%w: need %s, have %s", ErrInsufficientPoolLiquidity, req.BorrowAmount, available)
	}
	rate := l.credit.RateFor(user).RateBps

	var journal common.Journal
	lastID := l.lastID
	l.lastID++
	journal.Record(func() { l.lastID = lastID })

	loan := &Loan{
		ID:               l.lastID,
		User:             user,
		CollateralToken:  collateralToken,
		CollateralAmount: common.Copy(req.CollateralAmount),
		BorrowToken:      borrowToken,
		BorrowAmount:     common.Copy(req.BorrowAmount),
		Duration:         req.Duration,
		StartTime:        now,
		InterestRate:     rate,
		AmountPaid:       new(big.Int),
		Active:           true,
		ChainID:          req.DestinationChainID,
		Status:           StatusActive,
	}
	l.loans[loan.ID] = loan
	journal.Record(func() { delete(l.loans, loan.ID) })
	userIDs := l.byUser[user]
	l.byUser[user] = append(append([]uint64(nil), userIDs...), loan.ID)
	journal.Record(func() {
		if len(userIDs) == 0 {
			delete(l.byUser, user)
			return
		}
		l.byUser[user] = userIDs
	})
	l.setPool(&journal, borrowToken, available.Sub(available, req.BorrowAmount))
	l.setActive(&journal, 1)

	update, err := l.credit.RecordBorrow(user, req.BorrowAmount)
	if err != nil {
		journal.Revert()
		return 0, err
	}
	journal.Record(update.Revert)

	var plan common.TransferPlan
	plan.Add("pull collateral", func(ctx context.Context) error {
		return l.port.Pull(ctx, collateralToken, user, loan.CollateralAmount)
	}, func(ctx context.Context) error {
		return l.port.Push(ctx, collateralToken, user, loan.CollateralAmount)
	})
	plan.Add("push principal", func(ctx context.Context) error {
		return l.port.Push(ctx, borrowToken, user, loan.BorrowAmount)
	}, func(ctx context.Context) error {
		return l.port.Pull(ctx, borrowToken, user, loan.BorrowAmount)
	})
	created := loan.Clone()
	err = common.Settle(ctx, &journal, &plan, l.store, func(batch *state.Batch) {
		l.writeLoan(batch, created)
		l.writePool(batch, borrowToken)
		batch.Put(state.LendingCounterKey, created.ID)
		update.Write(batch)
	})
	if err != nil {
		return 0, err
	}

	update.Publish()
	l.refreshGauges(borrowToken)
	l.logger.Info("loan created", "loanId", created.ID, "user", user.String(), "collateralToken", collateralToken,
		"collateral", created.CollateralAmount.String(), "borrowToken", borrowToken, "amount", created.BorrowAmount.String(),
		"rateBps", rate, "healthFactor", hf.String())
	l.emitter.Emit(events.LoanCreated{
		LoanID:           created.ID,
		User:             user,
		CollateralToken:  collateralToken,
		CollateralAmount: common.Copy(created.CollateralAmount),
		BorrowToken:      borrowToken,
		BorrowAmount:     common.Copy(created.BorrowAmount),
		Duration:         created.Duration,
		InterestRateBps:  rate,
		ChainID:          created.ChainID,
	})
	l.emitter.Emit(events.CollateralDeposited{
		LoanID: created.ID,
		User:   user,
		Token:  collateralToken,
		Amount: common.Copy(created.CollateralAmount),
	})
	l.emitter.Emit(events.ActiveLoanUpdated{User: user, ActiveLoans: update.Profile().ActiveLoans})
	return created.ID, nil
}

// FundPool pulls amount of token from funder into the borrowable pool.
func (l *Ledger) FundPool(ctx context.Context, funder crypto.Address, token string, amount *big.Int) (err error) {
	if l == nil {
		return errNilLedger
	}
	ctx, done := l.begin(ctx, "fund_pool", &err)
	defer done()

	if err := common.Guard(l.pauses, ModuleName); err != nil {
		return err
	}
	if err := common.CheckAmount(amount); err != nil {
		return err
	}
	token = common.NormalizeAsset(token)
	if err := l.registry.Require(token); err != nil {
		return err
	}
	ctx, release, err := l.guard.Enter(ctx, "funder:"+funder.Hex())
	if err != nil {
		return err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	next := new(big.Int).Add(common.Copy(l.pools[token]), amount)
	if err := common.CheckU256(next); err != nil {
		return err
	}
	var journal common.Journal
	l.setPool(&journal, token, next)

	var plan common.TransferPlan
	plan.Add("pull liquidity", func(ctx context.Context) error {
		return l.port.Pull(ctx, token, funder, amount)
	}, func(ctx context.Context) error {
		return l.port.Push(ctx, token, funder, amount)
	})
	err = common.Settle(ctx, &journal, &plan, l.store, func(batch *state.Batch) {
		l.writePool(batch, token)
	})
	if err != nil {
		return err
	}

	l.refreshGauges(token)
	l.emitter.Emit(events.PoolFunded{Funder: funder, Token: token, Amount: common.Copy(amount)})
	return nil
}
