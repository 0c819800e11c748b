package yield

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/bank"
	"xficredit/native/common"
	"xficredit/native/tokens"
	"xficredit/storage"
)

const (
	day  = uint64(24 * 60 * 60)
	week = 7 * day
)

func newTestAddress(fill byte) crypto.Address {
	var addr crypto.Address
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

type fixture struct {
	ledger   *Ledger
	bank     *bank.Bank
	owner    crypto.Address
	custody  crypto.Address
	user     crypto.Address
	funder   crypto.Address
	now      int64
	recorder *events.Recorder
	store    *state.Manager
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	f := &fixture{
		bank:     bank.NewBank(),
		owner:    newTestAddress(0xA0),
		custody:  newTestAddress(0xC0),
		user:     newTestAddress(0x01),
		funder:   newTestAddress(0x02),
		now:      1_700_000_000,
		recorder: &events.Recorder{},
		store:    state.NewManager(storage.NewMemDB()),
	}
	authority := common.NewAuthority(f.owner)
	registry := tokens.NewRegistry(authority)
	if err := registry.Allow(f.owner, "XFI"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	f.ledger = NewLedger(authority, registry, f.bank.Port(f.custody), params)
	f.ledger.SetNowFunc(func() int64 { return f.now })
	f.ledger.SetEmitter(f.recorder)
	f.ledger.SetStore(f.store)
	for _, addr := range []crypto.Address{f.user, f.funder} {
		if err := f.bank.Mint("XFI", addr, big.NewInt(1_000_000)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	return f
}

func (f *fixture) advance(seconds uint64) { f.now += int64(seconds) }

func TestDepositWithdrawScenario(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	amount := big.NewInt(1000)

	id, err := f.ledger.Deposit(ctx, f.user, "xfi", amount, week)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}
	if err := f.ledger.AddYieldReserves(ctx, f.funder, "XFI", big.NewInt(500)); err != nil {
		t.Fatalf("add reserves: %v", err)
	}
	if got := f.bank.Balance("XFI", f.custody); got.Int64() != 1500 {
		t.Fatalf("custody should hold 1500, got %s", got)
	}

	f.advance(week)
	if err := f.ledger.Withdraw(ctx, id, f.user); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectedYield := common.LinearAccrual(amount, 1000, week)
	expected := new(big.Int).Add(amount, expectedYield)
	if got := f.ledger.PendingWithdrawal(f.user, "XFI"); got.Cmp(expected) != 0 {
		t.Fatalf("pending = %s, want %s", got, expected)
	}
	if f.ledger.ActivePositionsCount(f.user) != 0 || len(f.ledger.ActivePositions()) != 0 {
		t.Fatalf("position must be inactive after withdraw")
	}
	if err := f.ledger.Withdraw(ctx, id, f.user); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("second withdraw: expected not found, got %v", err)
	}

	before := f.bank.Balance("XFI", f.user)
	claimed, err := f.ledger.ClaimWithdrawal(ctx, "XFI", f.user)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Cmp(expected) != 0 {
		t.Fatalf("claimed %s, want %s", claimed, expected)
	}
	if got := new(big.Int).Sub(f.bank.Balance("XFI", f.user), before); got.Cmp(expected) != 0 {
		t.Fatalf("user received %s, want %s", got, expected)
	}
	if _, err := f.ledger.ClaimWithdrawal(ctx, "XFI", f.user); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}

	want := []string{
		events.TypeYieldDeposited,
		events.TypeYieldReserveAdded,
		events.TypeYieldWithdrawn,
		events.TypeYieldClaimed,
	}
	got := f.recorder.Types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	withdrawn := f.recorder.Events()[2].(events.YieldWithdrawn)
	if withdrawn.Yield.Cmp(expectedYield) != 0 || withdrawn.Early {
		t.Fatalf("unexpected withdraw event %+v", withdrawn)
	}
}

func TestRoundTripYield(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if err := f.bank.Mint("XFI", f.user, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.bank.Mint("XFI", f.funder, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.ledger.AddYieldReserves(ctx, f.funder, "XFI", amount); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	min := f.ledger.Params().MinDuration
	id, err := f.ledger.Deposit(ctx, f.user, "XFI", amount, min)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.advance(min)
	if err := f.ledger.Withdraw(ctx, id, f.user); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	num := new(big.Int).Mul(amount, big.NewInt(1000))
	num.Mul(num, new(big.Int).SetUint64(min))
	want := num.Quo(num, big.NewInt(common.SecondsPerYear*common.BasisPoints))
	want.Add(want, amount)
	if got := f.ledger.PendingWithdrawal(f.user, "XFI"); got.Cmp(want) != 0 {
		t.Fatalf("round trip pending = %s, want %s", got, want)
	}
	if f.ledger.CalculateYield(amount, min).Cmp(new(big.Int).Sub(want, amount)) != 0 {
		t.Fatalf("CalculateYield disagrees with withdrawal")
	}
}

func TestWithdrawMaturityBoundary(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	id, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(100), day)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.advance(day - 1)
	if err := f.ledger.Withdraw(ctx, id, f.user); !errors.Is(err, ErrStillLocked) {
		t.Fatalf("expected still locked, got %v", err)
	}
	f.advance(1)
	// Yield on 100 for a day at 10% rounds to zero, so an empty reserve suffices.
	if err := f.ledger.Withdraw(ctx, id, f.user); err != nil {
		t.Fatalf("withdraw at maturity: %v", err)
	}
}

func TestUnstakeReturnsNinetyPercent(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	for _, elapsed := range []uint64{0, day, 30 * day} {
		f.recorder.Reset()
		id, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(1005), 60*day)
		if err != nil {
			t.Fatalf("deposit: %v", err)
		}
		reserveBefore := f.ledger.Reserve("XFI")
		pendingBefore := f.ledger.PendingWithdrawal(f.user, "XFI")
		f.advance(elapsed)
		if err := f.ledger.Unstake(ctx, id, f.user); err != nil {
			t.Fatalf("unstake after %d: %v", elapsed, err)
		}
		credited := new(big.Int).Sub(f.ledger.PendingWithdrawal(f.user, "XFI"), pendingBefore)
		if credited.Int64() != 1005-100 {
			t.Fatalf("unstake after %d credited %s, want 905", elapsed, credited)
		}
		if got := new(big.Int).Sub(f.ledger.Reserve("XFI"), reserveBefore); got.Int64() != 100 {
			t.Fatalf("penalty should fund the reserve, got %s", got)
		}
		evts := f.recorder.Events()
		withdrawn := evts[1].(events.YieldWithdrawn)
		if withdrawn.Yield.Sign() != 0 || !withdrawn.Early {
			t.Fatalf("unexpected event %+v", withdrawn)
		}
		if evts[2].EventType() != events.TypeYieldPenaltyCollected {
			t.Fatalf("expected penalty event, got %v", f.recorder.Types())
		}
		if err := f.ledger.Unstake(ctx, id, f.user); !errors.Is(err, ErrPositionNotFound) {
			t.Fatalf("second unstake: expected not found, got %v", err)
		}
	}
}

func TestInsufficientReserveLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	amount := big.NewInt(1_000_000)
	id, err := f.ledger.Deposit(ctx, f.user, "XFI", amount, 365*day)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.advance(365 * day)
	if err := f.ledger.Withdraw(ctx, id, f.user); !errors.Is(err, ErrInsufficientReserve) {
		t.Fatalf("expected insufficient reserve, got %v", err)
	}
	pos, err := f.ledger.PositionByID(id)
	if err != nil || pos.Withdrawn {
		t.Fatalf("position must stay open: %+v, %v", pos, err)
	}
	if f.ledger.PendingWithdrawal(f.user, "XFI").Sign() != 0 {
		t.Fatalf("pending must stay empty")
	}
	if err := f.ledger.WithdrawPrincipalOnly(ctx, id, f.user); err != nil {
		t.Fatalf("principal only: %v", err)
	}
	if got := f.ledger.PendingWithdrawal(f.user, "XFI"); got.Cmp(amount) != 0 {
		t.Fatalf("principal only should credit %s, got %s", amount, got)
	}
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	cases := []struct {
		name     string
		token    string
		amount   *big.Int
		duration uint64
		want     error
	}{
		{"zero amount", "XFI", big.NewInt(0), week, ErrZeroAmount},
		{"nil amount", "XFI", nil, week, ErrZeroAmount},
		{"negative", "XFI", big.NewInt(-5), week, common.ErrNegativeAmount},
		{"overflow", "XFI", new(big.Int).Lsh(big.NewInt(1), 256), week, common.ErrAmountOverflow},
		{"token not allowed", "USDC", big.NewInt(10), week, ErrTokenNotAllowed},
		{"too short", "XFI", big.NewInt(10), day - 1, ErrInvalidDuration},
		{"too long", "XFI", big.NewInt(10), 366 * day, ErrInvalidDuration},
	}
	for _, tc := range cases {
		if _, err := f.ledger.Deposit(ctx, f.user, tc.token, tc.amount, tc.duration); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if len(f.recorder.Events()) != 0 || f.ledger.TotalStakers() != 0 {
		t.Fatalf("rejected deposits must not change state")
	}
}

func TestOwnershipChecks(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	id, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(10), day)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	f.advance(day)
	if err := f.ledger.Withdraw(ctx, id, f.funder); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if err := f.ledger.Unstake(ctx, id, f.funder); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if err := f.ledger.Withdraw(ctx, 99, f.user); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFailedPullRollsBack(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	poor := newTestAddress(0x09)
	if _, err := f.ledger.Deposit(ctx, poor, "XFI", big.NewInt(10), day); !errors.Is(err, bank.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if f.ledger.TotalStakers() != 0 || f.ledger.TotalValueLocked("XFI").Sign() != 0 {
		t.Fatalf("failed deposit must not leave state behind")
	}
	id, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(10), day)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if id != 1 {
		t.Fatalf("id counter must be restored, got %d", id)
	}
}

type reentrantPort struct {
	bank.Port
	ledger *Ledger
	user   crypto.Address
	nested error
}

func (p *reentrantPort) Pull(ctx context.Context, token string, from crypto.Address, amount *big.Int) error {
	_, p.nested = p.ledger.Deposit(ctx, p.user, token, amount, day)
	return p.Port.Pull(ctx, token, from, amount)
}

func TestReentrantDepositRejected(t *testing.T) {
	f := newFixture(t, DefaultParams())
	port := &reentrantPort{Port: f.bank.Port(f.custody), user: f.user}
	authority := common.NewAuthority(f.owner)
	registry := tokens.NewRegistry(authority)
	if err := registry.Allow(f.owner, "XFI"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	ledger := NewLedger(authority, registry, port, DefaultParams())
	port.ledger = ledger
	if _, err := ledger.Deposit(context.Background(), f.user, "XFI", big.NewInt(10), day); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !errors.Is(port.nested, common.ErrReentrantCall) {
		t.Fatalf("expected nested call to be rejected, got %v", port.nested)
	}
	if ledger.ActivePositionsCount(f.user) != 1 {
		t.Fatalf("only the outer deposit may land")
	}
}

func TestStatsAndQueries(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	if _, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(10), day); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	second, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(20), week)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.ledger.Deposit(ctx, f.funder, "XFI", big.NewInt(30), day); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if f.ledger.TotalStakers() != 2 || f.ledger.ActiveStakers() != 2 {
		t.Fatalf("unexpected staker counts %d/%d", f.ledger.TotalStakers(), f.ledger.ActiveStakers())
	}
	if got := f.ledger.TotalValueLocked("XFI"); got.Int64() != 60 {
		t.Fatalf("tvl = %s", got)
	}
	if got := f.ledger.UserTokenBalance(f.user, "XFI"); got.Int64() != 30 {
		t.Fatalf("user balance = %s", got)
	}
	pos, err := f.ledger.Position(f.user, 1)
	if err != nil || pos.ID != second {
		t.Fatalf("Position(user, 1) = %+v, %v", pos, err)
	}
	if _, err := f.ledger.Position(f.user, 2); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if err := f.ledger.Unstake(ctx, second, f.user); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if f.ledger.ActivePositionsCount(f.user) != 1 || len(f.ledger.Positions(f.user)) != 2 {
		t.Fatalf("closed positions stay in history only")
	}
	if err := f.ledger.Unstake(ctx, 3, f.funder); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	stats := f.ledger.Stats()
	if stats.TotalStakers != 2 || stats.ActiveStakers != 1 || stats.ValueLocked["XFI"].Int64() != 10 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestUpdateYieldParameters(t *testing.T) {
	f := newFixture(t, DefaultParams())
	if err := f.ledger.UpdateYieldParameters(f.user, 1500, 2, 365); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.ledger.UpdateYieldParameters(f.owner, 1500, 10, 5); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	if err := f.ledger.UpdateYieldParameters(f.owner, 1500, 10, 0); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	if err := f.ledger.UpdateYieldParameters(f.owner, 1500, 2, 365); err != nil {
		t.Fatalf("update: %v", err)
	}
	p := f.ledger.Params()
	if p.RateBps != 1500 || p.MinDuration != 2 || p.MaxDuration != 365 {
		t.Fatalf("unexpected params %+v", p)
	}
	if types := f.recorder.Types(); len(types) != 1 || types[0] != events.TypeYieldParametersUpdated {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestEmergencyWithdrawalTimelock(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	if err := f.ledger.AddYieldReserves(ctx, f.funder, "XFI", big.NewInt(700)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	treasury := newTestAddress(0x0E)
	if _, err := f.ledger.ExecuteEmergencyWithdrawal(ctx, f.owner, "XFI", treasury); !errors.Is(err, ErrEmergencyNotInitiated) {
		t.Fatalf("expected not initiated, got %v", err)
	}
	if _, err := f.ledger.InitiateEmergencyWithdrawal(f.user); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	executable, err := f.ledger.InitiateEmergencyWithdrawal(f.owner)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if executable != f.now+int64((48*time.Hour).Seconds()) {
		t.Fatalf("unexpected executable time %d", executable)
	}
	if at, ok := f.ledger.EmergencyWithdrawalTime(); !ok || at != f.now {
		t.Fatalf("emergency time = %d,%v", at, ok)
	}
	f.advance(uint64((47 * time.Hour).Seconds()))
	if _, err := f.ledger.ExecuteEmergencyWithdrawal(ctx, f.owner, "XFI", treasury); !errors.Is(err, ErrEmergencyTimelock) {
		t.Fatalf("expected timelock, got %v", err)
	}
	f.advance(uint64(time.Hour.Seconds()))
	drained, err := f.ledger.ExecuteEmergencyWithdrawal(ctx, f.owner, "XFI", treasury)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if drained.Int64() != 700 || f.bank.Balance("XFI", treasury).Int64() != 700 {
		t.Fatalf("reserve not moved: drained %s", drained)
	}
	if f.ledger.Reserve("XFI").Sign() != 0 {
		t.Fatalf("reserve must be empty")
	}
}

func TestRestrictedReserveFunding(t *testing.T) {
	params := DefaultParams()
	params.RestrictReserveFunding = true
	f := newFixture(t, params)
	if err := f.ledger.AddYieldReserves(context.Background(), f.funder, "XFI", big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestPausedLedgerRejectsMutations(t *testing.T) {
	f := newFixture(t, DefaultParams())
	pauses := common.NewPauseRegistry(common.NewAuthority(f.owner))
	f.ledger.SetPauses(pauses)
	if err := pauses.Pause(f.owner, ModuleName); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.ledger.Deposit(context.Background(), f.user, "XFI", big.NewInt(10), day); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if err := pauses.Unpause(f.owner, ModuleName); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := f.ledger.Deposit(context.Background(), f.user, "XFI", big.NewInt(10), day); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestRestoreLedger(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	if err := f.ledger.AddYieldReserves(ctx, f.funder, "XFI", big.NewInt(50)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	first, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(100), day)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.ledger.Deposit(ctx, f.funder, "XFI", big.NewInt(40), week); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.ledger.Unstake(ctx, first, f.user); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if err := f.ledger.UpdateYieldParameters(f.owner, 1200, day, 30*day); err != nil {
		t.Fatalf("params: %v", err)
	}

	authority := common.NewAuthority(f.owner)
	registry := tokens.NewRegistry(authority)
	restored := NewLedger(authority, registry, f.bank.Port(f.custody), DefaultParams())
	restored.SetStore(f.store)
	if err := restored.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.TotalStakers() != 2 || restored.ActiveStakers() != 1 {
		t.Fatalf("unexpected stakers after restore")
	}
	if got := restored.PendingWithdrawal(f.user, "XFI"); got.Int64() != 90 {
		t.Fatalf("pending after restore = %s", got)
	}
	if got := restored.Reserve("XFI"); got.Int64() != 60 {
		t.Fatalf("reserve after restore = %s", got)
	}
	if got := restored.TotalValueLocked("XFI"); got.Int64() != 40 {
		t.Fatalf("tvl after restore = %s", got)
	}
	if p := restored.Params(); p.RateBps != 1200 || p.MaxDuration != 30*day {
		t.Fatalf("params not restored: %+v", p)
	}
	restored.SetNowFunc(func() int64 { return f.now })
	if err := registry.Allow(f.owner, "XFI"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	id, err := restored.Deposit(ctx, f.user, "XFI", big.NewInt(5), day)
	if err != nil {
		t.Fatalf("deposit after restore: %v", err)
	}
	if id != 3 {
		t.Fatalf("expected id 3 after restore, got %d", id)
	}
}

func TestLockDurationMustFitTimestamp(t *testing.T) {
	params := DefaultParams()
	params.MaxDuration = math.MaxInt64
	f := newFixture(t, params)
	ctx := context.Background()
	if _, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(100), uint64(math.MaxInt64-f.now)+1); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected invalid duration, got %v", err)
	}
	if f.ledger.TotalValueLocked("XFI").Sign() != 0 {
		t.Fatalf("rejected deposit must not lock value")
	}
	id, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(100), uint64(math.MaxInt64-f.now))
	if err != nil {
		t.Fatalf("deposit at the horizon: %v", err)
	}
	if err := f.ledger.Withdraw(ctx, id, f.user); !errors.Is(err, ErrStillLocked) {
		t.Fatalf("expected still locked, got %v", err)
	}

	if err := f.ledger.UpdateYieldParameters(f.owner, 1000, day, math.MaxUint64); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	if err := f.ledger.UpdateYieldParameters(f.owner, 1000, day, uint64(math.MaxInt64-f.now)+1); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	if p := DefaultParams(); p.Validate() != nil {
		t.Fatalf("defaults must validate")
	}
	params.MaxDuration = math.MaxUint64
	if params.Validate() == nil {
		t.Fatalf("max duration beyond int64 must not validate")
	}
}

func TestRestoreKeepsConfiguredParams(t *testing.T) {
	f := newFixture(t, DefaultParams())
	ctx := context.Background()
	if _, err := f.ledger.Deposit(ctx, f.user, "XFI", big.NewInt(100), day); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.ledger.InitiateEmergencyWithdrawal(f.owner); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	restart := func(params Params) *Ledger {
		t.Helper()
		authority := common.NewAuthority(f.owner)
		registry := tokens.NewRegistry(authority)
		restored := NewLedger(authority, registry, f.bank.Port(f.custody), params)
		restored.SetStore(f.store)
		restored.SetNowFunc(func() int64 { return f.now })
		if err := restored.Restore(); err != nil {
			t.Fatalf("restore: %v", err)
		}
		return restored
	}

	edited := DefaultParams()
	edited.RateBps = 2500
	restored := restart(edited)
	if p := restored.Params(); p.RateBps != 2500 {
		t.Fatalf("configured rate ignored after restart, got %d", p.RateBps)
	}
	if at, armed := restored.EmergencyWithdrawalTime(); !armed || at == 0 {
		t.Fatalf("emergency timelock not restored")
	}

	if err := restored.UpdateYieldParameters(f.owner, 1800, day, 30*day); err != nil {
		t.Fatalf("params: %v", err)
	}
	if p := restart(edited).Params(); p.RateBps != 1800 || p.MaxDuration != 30*day {
		t.Fatalf("admin params not restored: %+v", p)
	}
}
