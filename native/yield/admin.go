package yield

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/common"
)

// SetTokenAllowed toggles token on the shared allow-list.
func (l *Ledger) SetTokenAllowed(caller crypto.Address, token string, allowed bool) error {
	if l == nil {
		return errNilLedger
	}
	return l.registry.SetAllowed(caller, token, allowed)
}

// UpdateYieldParameters replaces the annual rate and the lock bounds. Open
// positions keep their lock duration; the new rate applies to every future
// withdrawal.
func (l *Ledger) UpdateYieldParameters(caller crypto.Address, rateBps, minDuration, maxDuration uint64) error {
	if l == nil {
		return errNilLedger
	}
	if err := l.authority.Require(caller); err != nil {
		return err
	}
	if maxDuration == 0 || minDuration > maxDuration {
		return fmt.Errorf("%w: min %d, max %d", ErrInvalidParameters, minDuration, maxDuration)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !common.TermFits(l.now(), maxDuration) {
		return fmt.Errorf("%w: max %d overflows the lock window", ErrInvalidParameters, maxDuration)
	}
	previous, previousSet := l.params, l.paramsSet
	var journal common.Journal
	l.params.RateBps = rateBps
	l.params.MinDuration = minDuration
	l.params.MaxDuration = maxDuration
	l.paramsSet = true
	journal.Record(func() { l.params, l.paramsSet = previous, previousSet })
	meta := l.metaLocked()
	if err := common.Settle(context.Background(), &journal, nil, l.store, func(batch *state.Batch) {
		batch.Put(state.YieldMetaKey, meta)
	}); err != nil {
		return err
	}
	l.emitter.Emit(events.YieldParametersUpdated{RateBps: rateBps, MinDuration: minDuration, MaxDuration: maxDuration})
	return nil
}

// InitiateEmergencyWithdrawal starts the emergency timelock. Calling it again
// restarts the timer.
func (l *Ledger) InitiateEmergencyWithdrawal(caller crypto.Address) (int64, error) {
	if l == nil {
		return 0, errNilLedger
	}
	if err := l.authority.Require(caller); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	previous := l.emergencyAt
	var journal common.Journal
	l.emergencyAt = l.now()
	journal.Record(func() { l.emergencyAt = previous })
	meta := l.metaLocked()
	if err := common.Settle(context.Background(), &journal, nil, l.store, func(batch *state.Batch) {
		batch.Put(state.YieldMetaKey, meta)
	}); err != nil {
		return 0, err
	}
	executable := l.emergencyAt + int64(l.params.EmergencyDelay/time.Second)
	l.logger.Warn("emergency withdrawal initiated", "executableAt", executable)
	l.emitter.Emit(events.YieldEmergencyInitiated{InitiatedAt: l.emergencyAt, ExecutableAt: executable})
	return executable, nil
}

// CancelEmergencyWithdrawal disarms the timelock.
func (l *Ledger) CancelEmergencyWithdrawal(caller crypto.Address) error {
	if l == nil {
		return errNilLedger
	}
	if err := l.authority.Require(caller); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.emergencyAt == 0 {
		return ErrEmergencyNotInitiated
	}
	previous := l.emergencyAt
	var journal common.Journal
	l.emergencyAt = 0
	journal.Record(func() { l.emergencyAt = previous })
	meta := l.metaLocked()
	return common.Settle(context.Background(), &journal, nil, l.store, func(batch *state.Batch) {
		batch.Put(state.YieldMetaKey, meta)
	})
}

// ExecuteEmergencyWithdrawal moves the whole yield reserve of token to to once
// the timelock has elapsed. Positions and pending balances are untouched.
func (l *Ledger) ExecuteEmergencyWithdrawal(ctx context.Context, caller crypto.Address, token string, to crypto.Address) (amount *big.Int, err error) {
	if l == nil {
		return nil, errNilLedger
	}
	ctx, done := l.begin(ctx, "emergency_withdraw", &err)
	defer done()

	if err := l.authority.Require(caller); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, common.ErrInvalidAddress
	}
	token = common.NormalizeAsset(token)
	ctx, release, err := l.guard.Enter(ctx, reserveEntity(token))
	if err != nil {
		return nil, err
	}
	defer release()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.emergencyAt == 0 {
		return nil, ErrEmergencyNotInitiated
	}
	executable := l.emergencyAt + int64(l.params.EmergencyDelay/time.Second)
	if l.now() < executable {
		return nil, fmt.Errorf("%w: executable at %d", ErrEmergencyTimelock, executable)
	}
	drained := common.Copy(l.reserves[token])
	if drained.Sign() == 0 {
		return nil, fmt.Errorf("%w: reserve for %s is empty", ErrInsufficientReserve, token)
	}

	var journal common.Journal
	setAmount(&journal, l.reserves, token, new(big.Int))
	var plan common.TransferPlan
	plan.Add("push reserve", func(ctx context.Context) error {
		return l.port.Push(ctx, token, to, drained)
	}, func(ctx context.Context) error {
		return l.port.Pull(ctx, token, to, drained)
	})
	err = common.Settle(ctx, &journal, &plan, l.store, func(batch *state.Batch) {
		l.writeReserve(batch, token)
	})
	if err != nil {
		return nil, err
	}

	l.refreshGauges(token)
	l.logger.Warn("emergency withdrawal executed", "token", token, "amount", drained.String(), "recipient", to.String())
	l.emitter.Emit(events.YieldEmergencyExecuted{Token: token, Amount: common.Copy(drained), Recipient: to})
	return drained, nil
}
