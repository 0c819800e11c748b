package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/bank"
	"xficredit/native/common"
	"xficredit/observability"
)

// ModuleName identifies the treasury for pause toggles and metrics.
const ModuleName = "fees"

var (
	ErrUnauthorized        = common.ErrUnauthorized
	ErrInsufficientBalance = errors.New("fee treasury: insufficient accrued balance")
	ErrFeeOutOfRange       = errors.New("fee treasury: fee exceeds 10000 bps")
	errNilTreasury         = errors.New("fee treasury: not configured")
)

type storedBalance struct {
	Token  string
	Amount *big.Int
}

type storedMeta struct {
	Treasury crypto.Address
}

// Treasury accrues protocol fees per token. Accrued amounts stay in the
// custody account behind port until the treasury address withdraws them.
type Treasury struct {
	mu        sync.RWMutex
	authority *common.Authority
	address   crypto.Address
	port      bank.Port
	balances  map[string]*big.Int
	store     state.Store
	emitter   events.Emitter
	pauses    common.PauseView
	guard     *common.ReentrancyGuard
	logger    *slog.Logger
	metrics   *observability.LedgerMetricsRegistry
	tracer    trace.Tracer
}

// NewTreasury creates a treasury paying out to address through port.
func NewTreasury(authority *common.Authority, address crypto.Address, port bank.Port) *Treasury {
	return &Treasury{
		authority: authority,
		address:   address,
		port:      port,
		balances:  make(map[string]*big.Int),
		emitter:   events.NoopEmitter{},
		guard:     common.NewReentrancyGuard(ModuleName),
		logger:    slog.Default(),
		metrics:   observability.LedgerMetrics(),
		tracer:    otel.Tracer("xficredit/fees"),
	}
}

// SetEmitter configures the event emitter used for treasury notifications.
func (t *Treasury) SetEmitter(emitter events.Emitter) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if emitter == nil {
		t.emitter = events.NoopEmitter{}
		return
	}
	t.emitter = emitter
}

// SetPauses wires the pause switch consulted before withdrawals.
func (t *Treasury) SetPauses(p common.PauseView) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauses = p
}

// SetLogger overrides the structured logger.
func (t *Treasury) SetLogger(logger *slog.Logger) {
	if t == nil || logger == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = logger
}

// SetStore wires durable storage.
func (t *Treasury) SetStore(store state.Store) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.store = store
}

// Restore reloads balances and the treasury address from storage.
func (t *Treasury) Restore() error {
	if t == nil || t.store == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var meta storedMeta
	ok, err := t.store.KVGet(state.FeeMetaKey, &meta)
	if err != nil {
		return fmt.Errorf("fee treasury: restore meta: %w", err)
	}
	if ok {
		t.address = meta.Treasury
	}
	balances := make(map[string]*big.Int)
	err = t.store.KVIterate(state.FeeBalancePrefix, func(_ []byte, decode func(interface{}) error) error {
		var rec storedBalance
		if err := decode(&rec); err != nil {
			return err
		}
		balances[rec.Token] = common.Copy(rec.Amount)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fee treasury: restore balances: %w", err)
	}
	t.balances = balances
	for token, amount := range balances {
		t.metrics.SetFeeBalance(token, amount)
	}
	return nil
}

// Address returns the account allowed to withdraw accrued fees.
func (t *Treasury) Address() crypto.Address {
	if t == nil {
		return crypto.Address{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}

// Balance returns the accrued fees for token.
func (t *Treasury) Balance(token string) *big.Int {
	if t == nil {
		return new(big.Int)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return common.Copy(t.balances[common.NormalizeAsset(token)])
}

// Balances lists every token with a non-zero accrued balance.
func (t *Treasury) Balances() []Balance {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Balance, 0, len(t.balances))
	for token, amount := range t.balances {
		if amount.Sign() == 0 {
			continue
		}
		out = append(out, Balance{Token: token, Amount: common.Copy(amount)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// SetTreasury moves the withdrawal right to next.
func (t *Treasury) SetTreasury(caller, next crypto.Address) error {
	if t == nil {
		return errNilTreasury
	}
	if err := t.authority.Require(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return common.ErrInvalidAddress
	}
	t.mu.Lock()
	previous := t.address
	if t.store != nil {
		batch := t.store.NewBatch()
		batch.Put(state.FeeMetaKey, storedMeta{Treasury: next})
		if err := batch.Commit(); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("fee treasury: persist treasury: %w", err)
		}
	}
	t.address = next
	emitter := t.emitter
	t.mu.Unlock()
	emitter.Emit(events.TreasuryUpdated{Previous: previous, Next: next})
	return nil
}

// Accrual is a fee credit applied in memory but not yet committed.
type Accrual struct {
	treasury *Treasury
	token    string
	previous *big.Int
	next     *big.Int
}

// Stage credits amount of token in memory. The caller commits the accrual
// with its own batch through Write, or undoes it with Revert.
func (t *Treasury) Stage(token string, amount *big.Int) (*Accrual, error) {
	if t == nil {
		return nil, errNilTreasury
	}
	if err := common.CheckU256(amount); err != nil {
		return nil, err
	}
	token = common.NormalizeAsset(token)
	t.mu.Lock()
	defer t.mu.Unlock()
	previous := common.Copy(t.balances[token])
	next := new(big.Int).Add(previous, common.Copy(amount))
	if err := common.CheckU256(next); err != nil {
		return nil, err
	}
	t.balances[token] = next
	return &Accrual{treasury: t, token: token, previous: previous, next: common.Copy(next)}, nil
}

// Accrue credits amount of token and persists it on its own.
func (t *Treasury) Accrue(token string, amount *big.Int) error {
	acc, err := t.Stage(token, amount)
	if err != nil {
		return err
	}
	t.mu.RLock()
	store := t.store
	t.mu.RUnlock()
	if store != nil {
		batch := store.NewBatch()
		acc.Write(batch)
		if err := batch.Commit(); err != nil {
			acc.Revert()
			return fmt.Errorf("fee treasury: persist accrual: %w", err)
		}
	}
	acc.Publish()
	return nil
}

// Revert restores the balance seen before the accrual.
func (a *Accrual) Revert() {
	if a == nil || a.treasury == nil {
		return
	}
	a.treasury.mu.Lock()
	defer a.treasury.mu.Unlock()
	a.treasury.balances[a.token] = common.Copy(a.previous)
}

// Write stages the new balance into batch.
func (a *Accrual) Write(batch *state.Batch) {
	if a == nil || batch == nil {
		return
	}
	batch.Put(state.FeeBalanceKey(a.token), storedBalance{Token: a.token, Amount: common.Copy(a.next)})
}

// Publish refreshes the balance gauge once the accrual is durable.
func (a *Accrual) Publish() {
	if a == nil || a.treasury == nil {
		return
	}
	a.treasury.metrics.SetFeeBalance(a.token, a.next)
}

// Withdraw releases accrued fees to to. Only the treasury address may
// withdraw.
func (t *Treasury) Withdraw(ctx context.Context, caller crypto.Address, token string, amount *big.Int, to crypto.Address) (err error) {
	if t == nil {
		return errNilTreasury
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "fees.withdraw", trace.WithAttributes(attribute.String("token", common.NormalizeAsset(token))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		t.metrics.Observe(ModuleName, "withdraw", time.Since(start), err)
	}()

	if err := common.Guard(t.pauses, ModuleName); err != nil {
		return err
	}
	if err := common.CheckAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return common.ErrInvalidAddress
	}
	token = common.NormalizeAsset(token)
	ctx, release, err := t.guard.Enter(ctx, "token:"+token)
	if err != nil {
		return err
	}
	defer release()

	t.mu.Lock()
	defer t.mu.Unlock()
	if caller.IsZero() || caller != t.address {
		return ErrUnauthorized
	}
	balance := common.Copy(t.balances[token])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, balance, amount)
	}

	var journal common.Journal
	t.balances[token] = new(big.Int).Sub(balance, amount)
	journal.Record(func() { t.balances[token] = balance })

	var plan common.TransferPlan
	plan.Add("push fees", func(ctx context.Context) error {
		return t.port.Push(ctx, token, to, amount)
	}, func(ctx context.Context) error {
		return t.port.Pull(ctx, token, to, amount)
	})
	remaining := common.Copy(t.balances[token])
	err = common.Settle(ctx, &journal, &plan, t.store, func(batch *state.Batch) {
		batch.Put(state.FeeBalanceKey(token), storedBalance{Token: token, Amount: remaining})
	})
	if err != nil {
		return err
	}
	t.metrics.SetFeeBalance(token, t.balances[token])
	t.logger.Info("treasury withdrawal", "token", token, "amount", amount.String(), "recipient", to.String())
	t.emitter.Emit(events.TreasuryWithdrawn{Token: token, Amount: common.Copy(amount), Recipient: to})
	return nil
}
