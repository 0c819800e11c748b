package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
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
	"xficredit/native/credit"
	"xficredit/native/fees"
	"xficredit/native/tokens"
	"xficredit/observability"
)

// ModuleName identifies the loan ledger for pause toggles and metrics.
const ModuleName = "lending"

var (
	ErrZeroAmount                = common.ErrZeroAmount
	ErrTokenNotAllowed           = common.ErrTokenNotAllowed
	ErrInvalidDuration           = common.ErrInvalidDuration
	ErrNotOwner                  = common.ErrNotOwner
	ErrUnauthorized              = common.ErrUnauthorized
	ErrFeeOutOfRange             = fees.ErrFeeOutOfRange
	ErrBorrowTokenRestricted     = errors.New("lending ledger: token cannot be borrowed")
	ErrCollateralTooLow          = errors.New("lending ledger: collateral below minimum")
	ErrHealthFactorTooLow        = errors.New("lending ledger: health factor below minimum")
	ErrInsufficientPoolLiquidity = errors.New("lending ledger: insufficient pool liquidity")
	ErrLoanNotFound              = errors.New("lending ledger: loan not found")
	ErrLoanInactive              = errors.New("lending ledger: loan is not active")
	ErrLoanExpired               = errors.New("lending ledger: loan term has ended")
	ErrNotLiquidatable           = errors.New("lending ledger: loan not eligible for liquidation")
	ErrThresholdOutOfRange       = errors.New("lending ledger: threshold must be <= 100%")
	ErrRoutingOutOfRange         = errors.New("lending ledger: collateral routing exceeds 100%")
	ErrBatchLengthMismatch       = errors.New("lending ledger: users and loan ids differ in length")
	errNilLedger                 = errors.New("lending ledger: not configured")
)

type tokenSettings struct {
	minCollateral *big.Int
	threshold     uint64
	thresholdSet  bool
	restricted    bool
}

func (s tokenSettings) clone() tokenSettings {
	s.minCollateral = common.Copy(s.minCollateral)
	return s
}

// Ledger owns loans and pool liquidity. Fees and seized collateral assigned
// to the treasury stay in custody and are accounted by the fee treasury;
// credit history is delegated to the credit engine. Both are staged inside
// the ledger's own atomic commit.
type Ledger struct {
	mu        sync.RWMutex
	authority *common.Authority
	registry  *tokens.Registry
	credit    *credit.Engine
	treasury  *fees.Treasury
	port      bank.Port
	feed      PriceFeed
	params    Params
	overrides uint64

	loans    map[uint64]*Loan
	byUser   map[crypto.Address][]uint64
	pools    map[string]*big.Int
	settings map[string]tokenSettings
	active   int
	lastID   uint64

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
func NewLedger(authority *common.Authority, registry *tokens.Registry, creditEngine *credit.Engine, treasury *fees.Treasury, port bank.Port, params Params) *Ledger {
	params.EnsureDefaults()
	if params.Validate() != nil {
		params = DefaultParams()
	}
	return &Ledger{
		authority: authority,
		registry:  registry,
		credit:    creditEngine,
		treasury:  treasury,
		port:      port,
		feed:      Parity{},
		params:    params,
		loans:     make(map[uint64]*Loan),
		byUser:    make(map[crypto.Address][]uint64),
		pools:     make(map[string]*big.Int),
		settings:  make(map[string]tokenSettings),
		emitter:   events.NoopEmitter{},
		guard:     common.NewReentrancyGuard(ModuleName),
		logger:    slog.Default(),
		metrics:   observability.LedgerMetrics(),
		tracer:    otel.Tracer("xficredit/lending"),
		nowFunc:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used for loan notifications.
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

// SetNowFunc overrides the clock used for interest and term checks.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil || now == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = now
}

// SetPriceFeed replaces the valuation source. A nil feed restores parity.
func (l *Ledger) SetPriceFeed(feed PriceFeed) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if feed == nil {
		l.feed = Parity{}
		return
	}
	l.feed = feed
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

// Restore rebuilds loans, pools and risk settings from storage. Only
// parameters changed through the admin setters replace the configured
// values.
func (l *Ledger) Restore() error {
	if l == nil || l.store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var meta storedMeta
	hasMeta, err := l.store.KVGet(state.LendingMetaKey, &meta)
	if err != nil {
		return fmt.Errorf("lending ledger: restore meta: %w", err)
	}
	var counter uint64
	if _, err := l.store.KVGet(state.LendingCounterKey, &counter); err != nil {
		return fmt.Errorf("lending ledger: restore counter: %w", err)
	}
	loans := make(map[uint64]*Loan)
	err = l.store.KVIterate(state.LoanPrefix, func(_ []byte, decode func(interface{}) error) error {
		var rec storedLoan
		if err := decode(&rec); err != nil {
			return err
		}
		loans[rec.ID] = rec.loan()
		return nil
	})
	if err != nil {
		return fmt.Errorf("lending ledger: restore loans: %w", err)
	}
	pools := make(map[string]*big.Int)
	err = l.store.KVIterate(state.LendingPoolPrefix, func(_ []byte, decode func(interface{}) error) error {
		var rec storedPool
		if err := decode(&rec); err != nil {
			return err
		}
		pools[rec.Token] = common.Copy(rec.Amount)
		return nil
	})
	if err != nil {
		return fmt.Errorf("lending ledger: restore pools: %w", err)
	}
	settings := make(map[string]tokenSettings)
	err = l.store.KVIterate(state.LendingTokenPrefix, func(_ []byte, decode func(interface{}) error) error {
		var rec storedToken
		if err := decode(&rec); err != nil {
			return err
		}
		settings[rec.Token] = tokenSettings{
			minCollateral: common.Copy(rec.MinCollateral),
			threshold:     rec.Threshold,
			thresholdSet:  rec.ThresholdSet,
			restricted:    rec.BorrowRestricted,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("lending ledger: restore token settings: %w", err)
	}

	l.loans = loans
	l.pools = pools
	l.settings = settings
	l.byUser = make(map[crypto.Address][]uint64)
	l.active = 0
	l.lastID = 0
	ids := make([]uint64, 0, len(loans))
	for id := range loans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		loan := loans[id]
		l.byUser[loan.User] = append(l.byUser[loan.User], id)
		if loan.Active {
			l.active++
		}
		if id > l.lastID {
			l.lastID = id
		}
	}
	if counter > l.lastID {
		l.lastID = counter
	}
	if hasMeta {
		l.overrides = meta.Overrides
		if meta.Overrides&overrideMinHealthFactor != 0 {
			l.params.MinHealthFactor = meta.MinHealthFactor
		}
		if meta.Overrides&overrideProtocolFee != 0 {
			l.params.ProtocolFeeBps = meta.ProtocolFeeBps
		}
		if meta.Overrides&overrideMinimumDuration != 0 {
			l.params.MinimumDuration = meta.MinimumDuration
		}
		if meta.Overrides&overrideLateRepayment != 0 {
			l.params.AllowLateRepayment = meta.AllowLateRepayment
		}
		if meta.Overrides&overrideRouting != 0 {
			l.params.Routing = CollateralRouting{LiquidatorBps: meta.LiquidatorBps, TreasuryBps: meta.TreasuryBps}
		}
	}
	for token, amount := range l.pools {
		l.metrics.SetPoolLiquidity(token, amount)
	}
	l.metrics.SetActiveLoans(l.active)
	return nil
}

// begin opens a span for operation and returns the closer that records the
// outcome held in *errp.
func (l *Ledger) begin(ctx context.Context, operation string, errp *error) (context.Context, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "lending."+operation)
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

func loanEntity(id uint64) string { return "loan:" + strconv.FormatUint(id, 10) }

func (l *Ledger) metaLocked() storedMeta {
	return storedMeta{
		Overrides:          l.overrides,
		MinHealthFactor:    l.params.MinHealthFactor,
		ProtocolFeeBps:     l.params.ProtocolFeeBps,
		MinimumDuration:    l.params.MinimumDuration,
		AllowLateRepayment: l.params.AllowLateRepayment,
		LiquidatorBps:      l.params.Routing.LiquidatorBps,
		TreasuryBps:        l.params.Routing.TreasuryBps,
	}
}

func (l *Ledger) writeLoan(batch *state.Batch, loan *Loan) {
	batch.Put(state.LoanKey(loan.ID), toStoredLoan(loan))
	batch.Put(state.LoanUserIndexKey(loan.User, loan.ID), loan.ID)
}

func (l *Ledger) writePool(batch *state.Batch, token string) {
	batch.Put(state.LendingPoolKey(token), storedPool{Token: token, Amount: common.Copy(l.pools[token])})
}

func (l *Ledger) writeSettings(batch *state.Batch, token string) {
	s := l.settings[token]
	batch.Put(state.LendingTokenKey(token), storedToken{
		Token:            token,
		MinCollateral:    common.Copy(s.minCollateral),
		Threshold:        s.threshold,
		ThresholdSet:     s.thresholdSet,
		BorrowRestricted: s.restricted,
	})
}

// setPool replaces the pool balance of token and records the undo step.
func (l *Ledger) setPool(journal *common.Journal, token string, value *big.Int) {
	previous, existed := l.pools[token]
	l.pools[token] = value
	journal.Record(func() {
		if existed {
			l.pools[token] = previous
		} else {
			delete(l.pools, token)
		}
	})
}

func (l *Ledger) setActive(journal *common.Journal, delta int) {
	previous := l.active
	l.active += delta
	journal.Record(func() { l.active = previous })
}

// thresholdLocked returns the liquidation threshold of a collateral token.
func (l *Ledger) thresholdLocked(token string) uint64 {
	if s, ok := l.settings[token]; ok && s.thresholdSet {
		return s.threshold
	}
	return l.params.DefaultThreshold
}

// requiredHealthFactorLocked applies the borrower's credit tier override.
func (l *Ledger) requiredHealthFactorLocked(user crypto.Address) uint64 {
	if tier := l.credit.RateFor(user); tier.MinHealthFactor > 0 {
		return tier.MinHealthFactor
	}
	return l.params.MinHealthFactor
}

// healthLocked values collateral and debt through the price feed and returns
// the resulting health factor.
func (l *Ledger) healthLocked(ctx context.Context, collateralToken string, collateral *big.Int, borrowToken string, debt *big.Int) (*big.Int, error) {
	collateralValue, err := l.feed.Value(ctx, collateralToken, collateral)
	if err != nil {
		return nil, err
	}
	debtValue, err := l.feed.Value(ctx, borrowToken, debt)
	if err != nil {
		return nil, err
	}
	return HealthFactor(collateralValue, debtValue, l.thresholdLocked(collateralToken)), nil
}

func (l *Ledger) dueLocked(loan *Loan, now int64) Due {
	return computeDue(loan.BorrowAmount, loan.InterestRate, elapsedSince(loan.StartTime, now), l.params.ProtocolFeeBps)
}

func (l *Ledger) refreshGauges(tokens ...string) {
	for _, token := range tokens {
		l.metrics.SetPoolLiquidity(token, l.pools[token])
	}
	l.metrics.SetActiveLoans(l.active)
}

// lookupLocked returns user's loan id, or ErrLoanNotFound when the id does
// not exist or belongs to someone else.
func (l *Ledger) lookupLocked(user crypto.Address, id uint64) (*Loan, error) {
	loan, ok := l.loans[id]
	if !ok || loan.User != user {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	return loan, nil
}

// Params returns the active ledger settings.
func (l *Ledger) Params() Params {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.params
}

// TokenRisk returns the effective risk settings of token.
func (l *Ledger) TokenRisk(token string) TokenRisk {
	token = common.NormalizeAsset(token)
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.settings[token]
	return TokenRisk{
		Token:            token,
		MinCollateral:    common.Copy(s.minCollateral),
		Threshold:        l.thresholdLocked(token),
		BorrowRestricted: s.restricted,
	}
}

// PoolLiquidity is the borrowable balance of token.
func (l *Ledger) PoolLiquidity(token string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return common.Copy(l.pools[common.NormalizeAsset(token)])
}

// Pools returns every pool balance keyed by token.
func (l *Ledger) Pools() map[string]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*big.Int, len(l.pools))
	for token, amount := range l.pools {
		out[token] = common.Copy(amount)
	}
	return out
}

// CurrentLoanID is the id of the most recent loan, zero before the first.
func (l *Ledger) CurrentLoanID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastID
}

// LoanByID returns any loan, open or closed.
func (l *Ledger) LoanByID(id uint64) (*Loan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loan, ok := l.loans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	return loan.Clone(), nil
}

// Loan returns user's loan id.
func (l *Ledger) Loan(user crypto.Address, id uint64) (*Loan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loan, err := l.lookupLocked(user, id)
	if err != nil {
		return nil, err
	}
	return loan.Clone(), nil
}

// UserLoans lists every loan of user in creation order.
func (l *Ledger) UserLoans(user crypto.Address) []*Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byUser[user]
	out := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.loans[id].Clone())
	}
	return out
}

// UserLoanIDs lists the ids of every loan of user in creation order.
func (l *Ledger) UserLoanIDs(user crypto.Address) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]uint64(nil), l.byUser[user]...)
}

// ActiveLoans lists every open loan ordered by id.
func (l *Ledger) ActiveLoans() []*Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Loan, 0, l.active)
	for _, loan := range l.loans {
		if loan.Active {
			out = append(out, loan.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Loans lists every loan ordered by id.
func (l *Ledger) Loans() []*Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Loan, 0, len(l.loans))
	for _, loan := range l.loans {
		out = append(out, loan.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CalculateTotalDue is what PayLoan would pull right now.
func (l *Ledger) CalculateTotalDue(user crypto.Address, id uint64) (*big.Int, error) {
	due, err := l.Due(user, id)
	if err != nil {
		return nil, err
	}
	return due.Total, nil
}

// Due breaks the current repayment amount of an active loan into its parts.
func (l *Ledger) Due(user crypto.Address, id uint64) (Due, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loan, err := l.lookupLocked(user, id)
	if err != nil {
		return Due{}, err
	}
	if !loan.Active {
		return Due{}, ErrLoanInactive
	}
	return l.dueLocked(loan, l.now()), nil
}

// LoanHealth returns the current health factor of an active loan measured
// against its total due.
func (l *Ledger) LoanHealth(ctx context.Context, user crypto.Address, id uint64) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loan, err := l.lookupLocked(user, id)
	if err != nil {
		return nil, err
	}
	if !loan.Active {
		return nil, ErrLoanInactive
	}
	due := l.dueLocked(loan, l.now())
	return l.healthLocked(ctx, loan.CollateralToken, loan.CollateralAmount, loan.BorrowToken, due.Total)
}
