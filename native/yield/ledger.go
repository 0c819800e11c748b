package yield

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
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/bank"
	"xficredit/native/common"
	"xficredit/native/tokens"
	"xficredit/observability"
)

// ModuleName identifies the yield ledger for pause toggles and metrics.
const ModuleName = "yield"

var (
	ErrZeroAmount            = common.ErrZeroAmount
	ErrTokenNotAllowed       = common.ErrTokenNotAllowed
	ErrInvalidDuration       = common.ErrInvalidDuration
	ErrNotOwner              = common.ErrNotOwner
	ErrUnauthorized          = common.ErrUnauthorized
	ErrPositionNotFound      = errors.New("yield ledger: position not found")
	ErrStillLocked           = errors.New("yield ledger: position still locked")
	ErrInsufficientReserve   = errors.New("yield ledger: insufficient yield reserve")
	ErrNothingToClaim        = errors.New("yield ledger: nothing to claim")
	ErrInvalidParameters     = errors.New("yield ledger: invalid parameters")
	ErrEmergencyNotInitiated = errors.New("yield ledger: emergency withdrawal not initiated")
	ErrEmergencyTimelock     = errors.New("yield ledger: emergency timelock active")
	errNilLedger             = errors.New("yield ledger: not configured")
)

// Ledger owns positions, pending withdrawals and yield reserves. Every
// mutation holds the write lock for its whole duration, including the
// transfer legs.
type Ledger struct {
	mu        sync.RWMutex
	authority *common.Authority
	registry  *tokens.Registry
	port      bank.Port
	params    Params

	positions   map[uint64]*Position
	byOwner     map[crypto.Address][]uint64
	pending     map[pendingKey]*big.Int
	reserves    map[string]*big.Int
	locked      map[string]*big.Int
	activeCount map[crypto.Address]int
	lastID      uint64
	emergencyAt int64
	// paramsSet marks rate and lock bounds changed through
	// UpdateYieldParameters; only those outlive the configured values.
	paramsSet bool

	store   state.Store
	emitter events.Emitter
	pauses  common.PauseView
	guard   *common.ReentrancyGuard
	logger  *slog.Logger
	metrics *observability.LedgerMetricsRegistry
	tracer  trace.Tracer
	nowFunc func() int64
}

// NewLedger builds an empty ledger. Invalid params fall back to the defaults.
func NewLedger(authority *common.Authority, registry *tokens.Registry, port bank.Port, params Params) *Ledger {
	if params.Validate() != nil {
		params = DefaultParams()
	}
	return &Ledger{
		authority:   authority,
		registry:    registry,
		port:        port,
		params:      params,
		positions:   make(map[uint64]*Position),
		byOwner:     make(map[crypto.Address][]uint64),
		pending:     make(map[pendingKey]*big.Int),
		reserves:    make(map[string]*big.Int),
		locked:      make(map[string]*big.Int),
		activeCount: make(map[crypto.Address]int),
		emitter:     events.NoopEmitter{},
		guard:       common.NewReentrancyGuard(ModuleName),
		logger:      slog.Default(),
		metrics:     observability.LedgerMetrics(),
		tracer:      otel.Tracer("xficredit/yield"),
		nowFunc:     func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used for yield notifications.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses wires the module pause switch.
func (l *Ledger) SetPauses(p common.PauseView) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pauses = p
}

// SetLogger overrides the structured logger.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if l == nil || logger == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = logger
}

// SetNowFunc overrides the clock used for lock and timelock checks.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil || now == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = now
}

// SetStore wires durable storage.
func (l *Ledger) SetStore(store state.Store) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = store
}

// Restore rebuilds the ledger from storage. Rate and duration bounds saved
// by UpdateYieldParameters replace the configured values.
func (l *Ledger) Restore() error {
	if l == nil || l.store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var meta storedMeta
	hasMeta, err := l.store.KVGet(state.YieldMetaKey, &meta)
	if err != nil {
		return fmt.Errorf("yield ledger: restore meta: %w", err)
	}
	var counter uint64
	if _, err := l.store.KVGet(state.YieldCounterKey, &counter); err != nil {
		return fmt.Errorf("yield ledger: restore counter: %w", err)
	}
	positions := make(map[uint64]*Position)
	err = l.store.KVIterate(state.YieldPositionPrefix, func(_ []byte, decode func(interface{}) error) error {
		var rec storedPosition
		if err := decode(&rec); err != nil {
			return err
		}
		positions[rec.ID] = rec.position()
		return nil
	})
	if err != nil {
		return fmt.Errorf("yield ledger: restore positions: %w", err)
	}
	pending := make(map[pendingKey]*big.Int)
	err = l.store.KVIterate(state.YieldPendingPrefix, func(_ []byte, decode func(interface{}) error) error {
		var rec storedPending
		if err := decode(&rec); err != nil {
			return err
		}
		if rec.Amount != nil && rec.Amount.Sign() > 0 {
			pending[pendingKey{owner: rec.Owner, token: rec.Token}] = common.Copy(rec.Amount)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("yield ledger: restore pending: %w", err)
	}
	reserves := make(map[string]*big.Int)
	err = l.store.KVIterate(state.YieldReservePrefix, func(_ []byte, decode func(interface{}) error) error {
		var rec storedReserve
		if err := decode(&rec); err != nil {
			return err
		}
		reserves[rec.Token] = common.Copy(rec.Amount)
		return nil
	})
	if err != nil {
		return fmt.Errorf("yield ledger: restore reserves: %w", err)
	}

	l.positions = positions
	l.pending = pending
	l.reserves = reserves
	l.byOwner = make(map[crypto.Address][]uint64)
	l.locked = make(map[string]*big.Int)
	l.activeCount = make(map[crypto.Address]int)
	l.lastID = 0
	ids := make([]uint64, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		pos := positions[id]
		l.byOwner[pos.Owner] = append(l.byOwner[pos.Owner], id)
		if !pos.Withdrawn {
			l.addLocked(pos.Token, pos.Amount)
			l.activeCount[pos.Owner]++
		}
		if id > l.lastID {
			l.lastID = id
		}
	}
	if counter > l.lastID {
		l.lastID = counter
	}
	if hasMeta {
		if meta.ParamsSet && meta.MaxDuration > 0 {
			l.params.RateBps = meta.RateBps
			l.params.MinDuration = meta.MinDuration
			l.params.MaxDuration = meta.MaxDuration
			l.paramsSet = true
		}
		l.emergencyAt = int64(meta.EmergencyAt)
	}
	for token := range l.locked {
		l.metrics.SetValueLocked(token, l.locked[token])
	}
	for token, amount := range l.reserves {
		l.metrics.SetReserve(token, amount)
	}
	return nil
}

// begin opens a span for operation and returns the closer that records the
// outcome held in *errp.
func (l *Ledger) begin(ctx context.Context, operation string, errp *error) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "yield."+operation)
	return ctx, func() {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		l.metrics.Observe(ModuleName, operation, time.Since(start), err)
	}
}

func (l *Ledger) now() int64 { return l.nowFunc() }

func (l *Ledger) metaLocked() storedMeta {
	meta := storedMeta{EmergencyAt: unixToStored(l.emergencyAt)}
	if l.paramsSet {
		meta.ParamsSet = true
		meta.RateBps = l.params.RateBps
		meta.MinDuration = l.params.MinDuration
		meta.MaxDuration = l.params.MaxDuration
	}
	return meta
}

func (l *Ledger) writePosition(batch *state.Batch, pos *Position) {
	batch.Put(state.YieldPositionKey(pos.ID), toStoredPosition(pos))
	batch.Put(state.YieldOwnerIndexKey(pos.Owner, pos.ID), pos.ID)
}

func (l *Ledger) writePending(batch *state.Batch, key pendingKey) {
	amount := common.Copy(l.pending[key])
	if amount.Sign() == 0 {
		batch.Delete(state.YieldPendingKey(key.owner, key.token))
		return
	}
	batch.Put(state.YieldPendingKey(key.owner, key.token), storedPending{Owner: key.owner, Token: key.token, Amount: amount})
}

func (l *Ledger) writeReserve(batch *state.Batch, token string) {
	batch.Put(state.YieldReserveKey(token), storedReserve{Token: token, Amount: common.Copy(l.reserves[token])})
}

// setAmount replaces m[key] and records the undo step.
func setAmount[K comparable](journal *common.Journal, m map[K]*big.Int, key K, value *big.Int) {
	previous, existed := m[key]
	m[key] = value
	journal.Record(func() {
		if existed {
			m[key] = previous
		} else {
			delete(m, key)
		}
	})
}

func (l *Ledger) addLocked(token string, amount *big.Int) {
	current := common.Copy(l.locked[token])
	l.locked[token] = current.Add(current, amount)
}

func (l *Ledger) refreshGauges(token string) {
	l.metrics.SetValueLocked(token, l.locked[token])
	l.metrics.SetReserve(token, l.reserves[token])
}

// Params returns the active yield settings.
func (l *Ledger) Params() Params {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.params
}

// CalculateYield is the yield paid on amount locked for duration seconds at
// the current rate.
func (l *Ledger) CalculateYield(amount *big.Int, duration uint64) *big.Int {
	l.mu.RLock()
	rate := l.params.RateBps
	l.mu.RUnlock()
	return common.LinearAccrual(amount, rate, duration)
}

// PositionByID returns any position, open or closed.
func (l *Ledger) PositionByID(id uint64) (*Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos.Clone(), nil
}

// ActivePositions lists every open position ordered by id.
func (l *Ledger) ActivePositions() []*Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Position, 0)
	for _, pos := range l.positions {
		if !pos.Withdrawn {
			out = append(out, pos.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Positions lists the owner's positions, including closed ones, in creation
// order.
func (l *Ledger) Positions(owner crypto.Address) []*Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byOwner[owner]
	out := make([]*Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.positions[id].Clone())
	}
	return out
}

// Position returns the owner's index-th open position in creation order.
func (l *Ledger) Position(owner crypto.Address, index int) (*Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 {
		return nil, ErrPositionNotFound
	}
	seen := 0
	for _, id := range l.byOwner[owner] {
		pos := l.positions[id]
		if pos.Withdrawn {
			continue
		}
		if seen == index {
			return pos.Clone(), nil
		}
		seen++
	}
	return nil, ErrPositionNotFound
}

// ActivePositionsCount reports how many open positions owner holds.
func (l *Ledger) ActivePositionsCount(owner crypto.Address) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeCount[owner]
}

// TotalStakers counts every address that ever opened a position.
func (l *Ledger) TotalStakers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byOwner)
}

// ActiveStakers counts addresses holding at least one open position.
func (l *Ledger) ActiveStakers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.activeCount)
}

// TotalValueLocked is the principal held in open positions of token.
func (l *Ledger) TotalValueLocked(token string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.Copy(l.locked[common.NormalizeAsset(token)])
}

// UserTokenBalance is the principal owner holds in open positions of token.
func (l *Ledger) UserTokenBalance(owner crypto.Address, token string) *big.Int {
	token = common.NormalizeAsset(token)
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := new(big.Int)
	for _, id := range l.byOwner[owner] {
		pos := l.positions[id]
		if !pos.Withdrawn && pos.Token == token {
			total.Add(total, pos.Amount)
		}
	}
	return total
}

// PendingWithdrawal is the amount owner may claim in token.
func (l *Ledger) PendingWithdrawal(owner crypto.Address, token string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.Copy(l.pending[pendingKey{owner: owner, token: common.NormalizeAsset(token)}])
}

// Reserve is the yield reserve available for token.
func (l *Ledger) Reserve(token string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.Copy(l.reserves[common.NormalizeAsset(token)])
}

// EmergencyWithdrawalTime returns when the emergency timelock was started.
func (l *Ledger) EmergencyWithdrawalTime() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.emergencyAt, l.emergencyAt > 0
}

// AllowedTokens lists the tokens accepted for deposits.
func (l *Ledger) AllowedTokens() []string {
	return l.registry.List()
}

// Stats summarises the pool.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stats := Stats{
		TotalStakers:  len(l.byOwner),
		ActiveStakers: len(l.activeCount),
		ValueLocked:   make(map[string]*big.Int, len(l.locked)),
		Reserves:      make(map[string]*big.Int, len(l.reserves)),
		Params:        l.params,
		EmergencyAt:   l.emergencyAt,
	}
	for token, amount := range l.locked {
		stats.ValueLocked[token] = common.Copy(amount)
	}
	for token, amount := range l.reserves {
		stats.Reserves[token] = common.Copy(amount)
	}
	return stats
}
