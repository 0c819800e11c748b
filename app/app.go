package app

import (
	"errors"
	"fmt"
	"log/slog"

	"lukechampine.com/blake3"

	"xficredit/config"
	"xficredit/core/events"
	"xficredit/core/state"
	"xficredit/crypto"
	"xficredit/native/bank"
	"xficredit/native/common"
	"xficredit/native/credit"
	"xficredit/native/fees"
	"xficredit/native/lending"
	"xficredit/native/tokens"
	"xficredit/native/yield"
)

// Custody labels for the ledgers that hold user funds.
const (
	YieldCustody   = "yield"
	LendingCustody = "lending"
)

// Ledgers bundles the protocol components. They share one authority, one
// pause registry and one store.
type Ledgers struct {
	Authority *common.Authority
	Pauses    *common.PauseRegistry
	Registry  *tokens.Registry
	Credit    *credit.Engine
	Treasury  *fees.Treasury
	Yield     *yield.Ledger
	Lending   *lending.Ledger
}

// Options carries the runtime collaborators of New.
type Options struct {
	Store       state.Store
	YieldPort   bank.Port
	LendingPort bank.Port
	Emitter     events.Emitter
	Logger      *slog.Logger
	PriceFeed   lending.PriceFeed
}

// CustodyAddress derives the deterministic custody account for label.
func CustodyAddress(label string) crypto.Address {
	sum := blake3.Sum256([]byte("xficredit/custody/" + label))
	return crypto.BytesToAddress(sum[:crypto.AddressLength])
}

// New wires the ledgers from cfg, restores them from opts.Store and, on an
// empty store, applies the configured token allow-list and risk settings.
func New(cfg *config.Config, opts Options) (*Ledgers, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if opts.YieldPort == nil || opts.LendingPort == nil {
		return nil, errors.New("app: transfer ports required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authority := common.NewAuthority(cfg.Owner)
	creditEngine, err := credit.NewEngine(authority, cfg.Credit)
	if err != nil {
		return nil, fmt.Errorf("app: credit engine: %w", err)
	}
	ledgers := &Ledgers{
		Authority: authority,
		Pauses:    common.NewPauseRegistry(authority),
		Registry:  tokens.NewRegistry(authority),
		Credit:    creditEngine,
		Treasury:  fees.NewTreasury(authority, cfg.Treasury, opts.LendingPort),
	}
	ledgers.Yield = yield.NewLedger(authority, ledgers.Registry, opts.YieldPort, cfg.Yield)
	ledgers.Lending = lending.NewLedger(authority, ledgers.Registry, creditEngine, ledgers.Treasury, opts.LendingPort, cfg.Lending)

	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	authority.SetEmitter(emitter)
	ledgers.Pauses.SetEmitter(emitter)
	ledgers.Registry.SetEmitter(emitter)
	creditEngine.SetEmitter(emitter)
	ledgers.Treasury.SetEmitter(emitter)
	ledgers.Yield.SetEmitter(emitter)
	ledgers.Lending.SetEmitter(emitter)

	ledgers.Treasury.SetPauses(ledgers.Pauses)
	ledgers.Yield.SetPauses(ledgers.Pauses)
	ledgers.Lending.SetPauses(ledgers.Pauses)

	ledgers.Treasury.SetLogger(logger.With("module", fees.ModuleName))
	ledgers.Yield.SetLogger(logger.With("module", yield.ModuleName))
	ledgers.Lending.SetLogger(logger.With("module", lending.ModuleName))
	if opts.PriceFeed != nil {
		ledgers.Lending.SetPriceFeed(opts.PriceFeed)
	}

	if opts.Store != nil {
		ledgers.Pauses.SetStore(opts.Store)
		ledgers.Registry.SetStore(opts.Store)
		creditEngine.SetStore(opts.Store)
		ledgers.Treasury.SetStore(opts.Store)
		ledgers.Yield.SetStore(opts.Store)
		ledgers.Lending.SetStore(opts.Store)
		if err := ledgers.restore(); err != nil {
			return nil, err
		}
	}
	if len(ledgers.Registry.List()) == 0 {
		if err := ledgers.bootstrap(cfg); err != nil {
			return nil, err
		}
	}
	for _, module := range cfg.Pauses.Modules() {
		if err := ledgers.Pauses.Pause(cfg.Owner, module); err != nil {
			return nil, fmt.Errorf("app: pause %s: %w", module, err)
		}
	}
	return ledgers, nil
}

func (a *Ledgers) restore() error {
	steps := []struct {
		name    string
		restore func() error
	}{
		{"pause registry", a.Pauses.Restore},
		{"token registry", a.Registry.Restore},
		{"credit engine", a.Credit.Restore},
		{"fee treasury", a.Treasury.Restore},
		{"yield ledger", a.Yield.Restore},
		{"lending ledger", a.Lending.Restore},
	}
	for _, step := range steps {
		if err := step.restore(); err != nil {
			return fmt.Errorf("app: restore %s: %w", step.name, err)
		}
	}
	return nil
}

func (a *Ledgers) bootstrap(cfg *config.Config) error {
	owner := cfg.Owner
	for _, token := range cfg.AllowedTokens {
		if err := a.Registry.Allow(owner, token); err != nil {
			return fmt.Errorf("app: allow %s: %w", token, err)
		}
	}
	for _, risk := range cfg.Tokens {
		min, err := risk.MinCollateralAmount()
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		if min.Sign() > 0 {
			if err := a.Lending.SetMinCollateralAmount(owner, risk.Token, min); err != nil {
				return fmt.Errorf("app: token %s: %w", risk.Token, err)
			}
		}
		if risk.LiquidationThreshold > 0 {
			if err := a.Lending.SetLiquidationThreshold(owner, risk.Token, risk.LiquidationThreshold); err != nil {
				return fmt.Errorf("app: token %s: %w", risk.Token, err)
			}
		}
		if risk.BorrowRestricted {
			if err := a.Lending.SetBorrowRestricted(owner, risk.Token, true); err != nil {
				return fmt.Errorf("app: token %s: %w", risk.Token, err)
			}
		}
	}
	return nil
}
