package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"xficredit/native/common"
)

// ErrPriceUnavailable is returned by feeds that cannot value a token.
var ErrPriceUnavailable = errors.New("lending ledger: price unavailable")

// PriceFeed values token amounts in a common unit so collateral and debt in
// different tokens can be compared.
type PriceFeed interface {
	Value(ctx context.Context, token string, amount *big.Int) (*big.Int, error)
}

// Parity values every token one-to-one.
type Parity struct{}

// Value implements PriceFeed.
func (Parity) Value(_ context.Context, _ string, amount *big.Int) (*big.Int, error) {
	return common.Copy(amount), nil
}

// StaticFeed prices tokens from a fixed table of rationals. Tokens missing
// from the table fail with ErrPriceUnavailable.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]*big.Rat
}

// NewStaticFeed returns an empty feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[string]*big.Rat)}
}

// Set records the price of one unit of token.
func (f *StaticFeed) Set(token string, price *big.Rat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[common.NormalizeAsset(token)] = new(big.Rat).Set(price)
}

// Value implements PriceFeed. Results round down.
func (f *StaticFeed) Value(_ context.Context, token string, amount *big.Int) (*big.Int, error) {
	f.mu.RLock()
	price, ok := f.prices[common.NormalizeAsset(token)]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, token)
	}
	value := new(big.Rat).Mul(new(big.Rat).SetInt(common.Copy(amount)), price)
	return new(big.Int).Quo(value.Num(), value.Denom()), nil
}
