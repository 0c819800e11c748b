package yield

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

func positionEntity(id uint64) string { return "position:" + strconv.FormatUint(id, 10) }

func pendingEntity(owner crypto.Address, token string) string {
	return "pending:" + owner.Hex() + ":" + token
}

func reserveEntity(token string) string { return "reserve:" + token }

// Deposit locks amount of token for lockDuration seconds and returns the new
// position id.
func (l *Ledger) Deposit(ctx context.Context, owner crypto.Address, token string, amount *big.Int, lockDuration uint64) (id uint64, err error) {
	if l == nil {
		return 0, errNilLedger
	}
	ctx, done := l.begin(ctx, "deposit", &err)
	defer done()

	if err := common.Guard(l.pauses, ModuleName); err != nil {
		return 0, err
	}
	if err := common.CheckAmount(amount); err != nil {
		return 0, err
	}
	token = common.NormalizeAsset(token)
	if err := l.registry.Require(token); err != nil {
		return 0, err
	}
	ctx, release, err := l.guard.Enter(ctx, "depositor:"+owner.Hex())
	if err != nil {
		return 0, err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	if lockDuration < l.params.MinDuration || lockDuration > l.params.MaxDuration {
		return 0, fmt.Errorf("%w: %d outside [%d, %d]", ErrInvalidDuration, lockDuration, l.params.MinDuration, l.params.MaxDuration)
	}
	now := l.now()
	if !common.TermFits(now, lockDuration) {
		return 0, fmt.Errorf("%w: %d overflows the lock window", ErrInvalidDuration, lockDuration)
	}

	var journal common.Journal
	lastID := l.lastID
	l.lastID++
	journal.Record(func() { l.lastID = lastID })

	pos := &Position{
		ID:           l.lastID,
		Owner:        owner,
		Token:        token,
		Amount:       common.Copy(amount),
		StartTime:    now,
		LockDuration: lockDuration,
	}
	l.positions[pos.ID] = pos
	journal.Record(func() { delete(l.positions, pos.ID) })

	ownerIDs := l.byOwner[owner]
	l.byOwner[owner] = append(append([]uint64(nil), ownerIDs...), pos.ID)
	journal.Record(func() {
		if len(ownerIDs) == 0 {
			delete(l.byOwner, owner)
			return
		}
		l.byOwner[owner] = ownerIDs
	})
	l.trackActive(&journal, owner, 1)
	setAmount(&journal, l.locked, token, new(big.Int).Add(common.Copy(l.locked[token]), amount))

	var plan common.TransferPlan
	plan.Add("pull deposit", func(ctx context.Context) error {
		return l.port.Pull(ctx, token, owner, amount)
	}, func(ctx context.Context) error {
		return l.port.Push(ctx, token, owner, amount)
	})
	err = common.Settle(ctx, &journal, &plan, l.store, func(batch *state.Batch) {
		l.writePosition(batch, pos)
		batch.Put(state.YieldCounterKey, pos.ID)
	})
	if err != nil {
		return 0, err
	}

	l.refreshGauges(token)
	l.logger.Info("yield deposit", "positionId", pos.ID, "token", token, "amount", amount.String(), "lockDuration", lockDuration)
	l.emitter.Emit(events.YieldDeposited{
		PositionID: pos.ID,
		Owner:      owner,
		Token:      token,
		Amount:     common.Copy(amount),
		Duration:   lockDuration,
	})
	return pos.ID, nil
}

// Withdraw closes a matured position. Principal plus yield is credited to the
// owner's pending balance; the yield is taken from the token's reserve.
func (l *Ledger) Withdraw(ctx context.Context, positionID uint64, caller crypto.Address) (err error) {
	return l.close(ctx, "withdraw", positionID, caller, closeWithYield)
}

// WithdrawPrincipalOnly closes a matured position without yield. It is the
// explicit exit for owners who do not want to wait for the reserve to be
// topped up.
func (l *Ledger) WithdrawPrincipalOnly(ctx context.Context, positionID uint64, caller crypto.Address) (err error) {
	return l.close(ctx, "withdraw_principal", positionID, caller, closePrincipal)
}

// Unstake closes a position before it matures. The early-exit penalty is
// retained in the token's yield reserve and no yield is paid.
func (l *Ledger) Unstake(ctx context.Context, positionID uint64, caller crypto.Address) (err error) {
	return l.close(ctx, "unstake", positionID, caller, closeEarly)
}

type closeMode int

const (
	closeWithYield closeMode = iota
	closePrincipal
	closeEarly
)

func (l *Ledger) close(ctx context.Context, operation string, positionID uint64, caller crypto.Address, mode closeMode) (err error) {
	if l == nil {
		return errNilLedger
	}
	ctx, done := l.begin(ctx, operation, &err)
	defer done()

	if err := common.Guard(l.pauses, ModuleName); err != nil {
		return err
	}
	ctx, release, err := l.guard.Enter(ctx, positionEntity(positionID))
	if err != nil {
		return err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[positionID]
	if !ok || pos.Withdrawn {
		return ErrPositionNotFound
	}
	if pos.Owner != caller {
		return ErrNotOwner
	}
	now := l.now()
	if mode != closeEarly && now < pos.MaturesAt() {
		return fmt.Errorf("%w: matures at %d", ErrStillLocked, pos.MaturesAt())
	}

	token := pos.Token
	credit := common.Copy(pos.Amount)
	yieldAmount := new(big.Int)
	penalty := new(big.Int)
	reserve := common.Copy(l.reserves[token])
	switch mode {
	case closeWithYield:
		yieldAmount = common.LinearAccrual(pos.Amount, l.params.RateBps, pos.LockDuration)
		if reserve.Cmp(yieldAmount) < 0 {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientReserve, yieldAmount, reserve)
		}
		reserve.Sub(reserve, yieldAmount)
		credit.Add(credit, yieldAmount)
	case closeEarly:
		penalty = common.ApplyBps(pos.Amount, l.params.PenaltyBps)
		reserve.Add(reserve, penalty)
		credit.Sub(credit, penalty)
	}

	var journal common.Journal
	previous := *pos
	pos.Withdrawn = true
	pos.ClosedAt = now
	journal.Record(func() { *pos = previous })

	key := pendingKey{owner: pos.Owner, token: token}
	setAmount(&journal, l.pending, key, new(big.Int).Add(common.Copy(l.pending[key]), credit))
	reserveChanged := yieldAmount.Sign() > 0 || penalty.Sign() > 0
	if reserveChanged {
		setAmount(&journal, l.reserves, token, reserve)
	}
	setAmount(&journal, l.locked, token, new(big.Int).Sub(common.Copy(l.locked[token]), pos.Amount))
	l.trackActive(&journal, pos.Owner, -1)

	closed := pos.Clone()
	err = common.Settle(ctx, &journal, nil, l.store, func(batch *state.Batch) {
		l.writePosition(batch, closed)
		l.writePending(batch, key)
		if reserveChanged {
			l.writeReserve(batch, token)
		}
	})
	if err != nil {
		return err
	}

	l.refreshGauges(token)
	l.logger.Info("yield position closed", "operation", operation, "positionId", positionID, "token", token,
		"credited", credit.String(), "yield", yieldAmount.String(), "penalty", penalty.String())
	l.emitter.Emit(events.YieldWithdrawn{
		PositionID: positionID,
		Owner:      closed.Owner,
		Token:      token,
		Amount:     credit,
		Yield:      yieldAmount,
		Early:      mode == closeEarly,
	})
	if penalty.Sign() > 0 {
		l.emitter.Emit(events.YieldPenaltyCollected{
			PositionID: positionID,
			Owner:      closed.Owner,
			Token:      token,
			Penalty:    penalty,
		})
	}
	return nil
}

// ClaimWithdrawal pays out the caller's pending balance in token.
func (l *Ledger) ClaimWithdrawal(ctx context.Context, token string, caller crypto.Address) (amount *big.Int, err error) {
	if l == nil {
		return nil, errNilLedger
	}
	ctx, done := l.begin(ctx, "claim", &err)
	defer done()

	if err := common.Guard(l.pauses, ModuleName); err != nil {
		return nil, err
	}
	token = common.NormalizeAsset(token)
	ctx, release, err := l.guard.Enter(ctx, pendingEntity(caller, token))
	if err != nil {
		return nil, err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	key := pendingKey{owner: caller, token: token}
	owed := common.Copy(l.pending[key])
	if owed.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	var journal common.Journal
	setAmount(&journal, l.pending, key, new(big.Int))

	var plan common.TransferPlan
	plan.Add("push claim", func(ctx context.Context) error {
		return l.port.Push(ctx, token, caller, owed)
	}, func(ctx context.Context) error {
		return l.port.Pull(ctx, token, caller, owed)
	})
	err = common.Settle(ctx, &journal, &plan, l.store, func(batch *state.Batch) {
		l.writePending(batch, key)
	})
	if err != nil {
		return nil, err
	}
	delete(l.pending, key)

	l.emitter.Emit(events.YieldClaimed{Owner: caller, Token: token, Amount: common.Copy(owed)})
	return owed, nil
}

// AddYieldReserves pulls amount of token from funder into the token's yield
// reserve.
func (l *Ledger) AddYieldReserves(ctx context.Context, funder crypto.Address, token string, amount *big.Int) (err error) {
	if l == nil {
		return errNilLedger
	}
	ctx, done := l.begin(ctx, "add_reserve", &err)
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
	l.mu.RLock()
	restricted := l.params.RestrictReserveFunding
	l.mu.RUnlock()
	if restricted {
		if err := l.authority.Require(funder); err != nil {
			return err
		}
	}
	ctx, release, err := l.guard.Enter(ctx, reserveEntity(token))
	if err != nil {
		return err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	next := new(big.Int).Add(common.Copy(l.reserves[token]), amount)
	if err := common.CheckU256(next); err != nil {
		return err
	}
	var journal common.Journal
	setAmount(&journal, l.reserves, token, next)

	var plan common.TransferPlan
	plan.Add("pull reserve", func(ctx context.Context) error {
		return l.port.Pull(ctx, token, funder, amount)
	}, func(ctx context.Context) error {
		return l.port.Push(ctx, token, funder, amount)
	})
	err = common.Settle(ctx, &journal, &plan, l.store, func(batch *state.Batch) {
		l.writeReserve(batch, token)
	})
	if err != nil {
		return err
	}

	l.refreshGauges(token)
	l.emitter.Emit(events.YieldReserveAdded{Funder: funder, Token: token, Amount: common.Copy(amount)})
	return nil
}

func (l *Ledger) trackActive(journal *common.Journal, owner crypto.Address, delta int) {
	previous, existed := l.activeCount[owner]
	next := previous + delta
	if next <= 0 {
		delete(l.activeCount, owner)
	} else {
		l.activeCount[owner] = next
	}
	journal.Record(func() {
		if existed {
			l.activeCount[owner] = previous
		} else {
			delete(l.activeCount, owner)
		}
	})
}
