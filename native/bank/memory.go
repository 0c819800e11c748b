package bank

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"xficredit/crypto"
	"xficredit/native/common"
)

// Bank is an in-process balance book used by the service in standalone mode
// and by tests. Each ledger receives a Port bound to its own custody account.
type Bank struct {
	mu       sync.RWMutex
	balances map[string]map[crypto.Address]*big.Int
}

// NewBank returns an empty book.
func NewBank() *Bank {
	return &Bank{balances: make(map[string]map[crypto.Address]*big.Int)}
}

// Mint credits an account out of thin air. Used for faucets and fixtures.
func (b *Bank) Mint(token string, to crypto.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	token = common.NormalizeAsset(token)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(token, to, amount)
	return nil
}

// Balance returns the balance of addr in token.
func (b *Bank) Balance(token string, addr crypto.Address) *big.Int {
	token = common.NormalizeAsset(token)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if accounts, ok := b.balances[token]; ok {
		if bal, ok := accounts[addr]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// Tokens lists every token with at least one account.
func (b *Bank) Tokens() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.balances))
	for token := range b.balances {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Transfer moves amount of token between two accounts.
func (b *Bank) Transfer(ctx context.Context, token string, from, to crypto.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPortUnavailable, err)
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	token = common.NormalizeAsset(token)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(token, from, amount); err != nil {
		return err
	}
	b.credit(token, to, amount)
	return nil
}

// Port returns a transfer port whose custody account is custody.
func (b *Bank) Port(custody crypto.Address) Port {
	return &custodyPort{bank: b, custody: custody}
}

func (b *Bank) credit(token string, to crypto.Address, amount *big.Int) {
	accounts, ok := b.balances[token]
	if !ok {
		accounts = make(map[crypto.Address]*big.Int)
		b.balances[token] = accounts
	}
	bal, ok := accounts[to]
	if !ok {
		bal = new(big.Int)
		accounts[to] = bal
	}
	bal.Add(bal, amount)
}

func (b *Bank) debit(token string, from crypto.Address, amount *big.Int) error {
	accounts := b.balances[token]
	var bal *big.Int
	if accounts != nil {
		bal = accounts[from]
	}
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s needs %s %s", ErrInsufficientFunds, from, amount, token)
	}
	bal.Sub(bal, amount)
	return nil
}

type custodyPort struct {
	bank    *Bank
	custody crypto.Address
}

func (p *custodyPort) Pull(ctx context.Context, token string, from crypto.Address, amount *big.Int) error {
	return p.bank.Transfer(ctx, token, from, p.custody, amount)
}

func (p *custodyPort) Push(ctx context.Context, token string, to crypto.Address, amount *big.Int) error {
	return p.bank.Transfer(ctx, token, p.custody, to, amount)
}
